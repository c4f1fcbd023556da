package extract

import (
	"testing"
	"time"

	"blogstat-backend/internal/components/chrono"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestNormalizeRelativeDate(t *testing.T) {
	now := time.Date(2024, time.March, 5, 1, 30, 0, 0, chrono.Seoul())

	cases := []struct {
		raw      string
		expected Date
	}{
		{"3시간 전", Date{2024, time.March, 4}},
		{"1시간 전", Date{2024, time.March, 5}},
		{"45분 전", Date{2024, time.March, 5}},
		{"91분 전", Date{2024, time.March, 4}},
		{"2일 전", Date{2024, time.March, 3}},
		{"5일전", Date{2024, time.February, 29}},
		{" 0분 전 ", Date{2024, time.March, 5}},
		{"8760시간 전", Date{2023, time.March, 6}},
	}

	for _, c := range cases {
		date, ok := NormalizeRelativeDate(c.raw, now)
		require.True(t, ok, c.raw)
		require.Equal(t, c.expected, date, c.raw)
	}

	for _, raw := range []string{
		"3주 전",
		"시간 전",
		"어제",
		"2024.03.05.",
		"9999999999999시간 전",
		"99999999999999999999분 전",
		"9999999일 전",
	} {
		_, ok := NormalizeRelativeDate(raw, now)
		require.False(t, ok, raw)
	}
}

func TestNormalizeAbsoluteDate(t *testing.T) {
	cases := []struct {
		raw      string
		expected string
	}{
		{"2024.3.5", "2024-03-05"},
		{"2024.03.05.", "2024-03-05"},
		{"2024. 3. 5. 14:22", "2024-03-05"},
		{"2024-12-31", "2024-12-31"},
		{" 2023 . 11 . 9 ", "2023-11-09"},
	}
	for _, c := range cases {
		date, ok := NormalizeAbsoluteDate(c.raw)
		require.True(t, ok, c.raw)
		require.Equal(t, c.expected, date.String(), c.raw)
	}

	invalid := []string{
		"",
		"2024.3",
		"2024..5",
		"24.3.5",
		"2024.13.1",
		"2023.2.29",
		"2024.03.05T10:00",
		"yyyy.mm.dd",
	}
	for _, raw := range invalid {
		_, ok := NormalizeAbsoluteDate(raw)
		require.False(t, ok, raw)
	}
}

func TestDateJSON(t *testing.T) {
	date := Date{2024, time.March, 5}
	data, err := date.MarshalJSON()
	require.NoError(t, err)
	require.Equal(t, `"2024-03-05"`, string(data))

	var decoded Date
	require.NoError(t, decoded.UnmarshalJSON(data))
	require.Equal(t, date, decoded)
	require.Error(t, decoded.UnmarshalJSON([]byte(`"not a date"`)))
}

func TestPostDateFirstMatchWins(t *testing.T) {
	now := time.Date(2024, time.March, 5, 12, 0, 0, 0, chrono.Seoul())
	extractor := NewExtractor(chrono.Fixed{At: now})

	cases := []struct {
		name     string
		page     string
		expected *Date
	}{
		{
			name:     "editor date",
			page:     `<span class="se_publishDate pcol2">2024. 2. 1. 9:15</span>`,
			expected: &Date{2024, time.February, 1},
		},
		{
			name:     "relative editor date",
			page:     `<span class="se_publishDate pcol2">3시간 전</span>`,
			expected: &Date{2024, time.March, 5},
		},
		{
			name: "earlier rule shadows later rules",
			page: `<span class="blog_date">2023.1.2.</span>
<meta property="article:published_time" content="2024-01-01T10:00:00+09:00">
<span class="se_publishDate">2022.5.6.</span>`,
			expected: &Date{2022, time.May, 6},
		},
		{
			name:     "unusable first match is not retried",
			page:     `<span class="se_publishDate">방금</span><span class="blog_date">2023.1.2.</span>`,
			expected: nil,
		},
		{
			name:     "metadata fallback",
			page:     `<html><head><meta property="article:published_time" content="2024-01-01T10:00:00+09:00"></head></html>`,
			expected: &Date{2024, time.January, 1},
		},
		{
			name:     "cafe date",
			page:     `<div class="article_info"><span class="date">2024.02.28. 23:59</span></div>`,
			expected: &Date{2024, time.February, 28},
		},
		{
			name:     "nothing matches",
			page:     `<p>hello</p>`,
			expected: nil,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			date, ok := extractor.PostDate(NewPage(c.page))
			if c.expected == nil {
				require.False(t, ok)
				return
			}
			require.True(t, ok)
			require.Equal(t, *c.expected, date)
		})
	}
}

func TestCommentCount(t *testing.T) {
	extractor := NewExtractor(chrono.Fixed{})

	cases := []struct {
		name     string
		page     string
		expected uint64
	}{
		{"em", `<em id="commentCount" class="num">1,234</em>`, 1234},
		{"class", `<span class="u_cnt _commentCount">17</span>`, 17},
		{"json", `var data = {"commentCount": "42"};`, 42},
		{"json number", `{"commentCount":7,"x":1}`, 7},
		{"selector", `<a class="button_comment"><strong class="num">9</strong></a>`, 9},
		{"matched but empty", `<em id="commentCount"></em><span class="_commentCount">5</span>`, 0},
		{"matched but not numeric", `<em id="commentCount">댓글</em>`, 0},
		{"absent", `<p>nothing</p>`, 0},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			require.Equal(t, c.expected, extractor.CommentCount(NewPage(c.page)))
		})
	}
}

func TestExtractionIsIdempotent(t *testing.T) {
	extractor := NewExtractor(chrono.Fixed{At: time.Date(2024, time.March, 5, 0, 0, 0, 0, time.UTC)})
	text := `<span class="se_publishDate">2일 전</span><em id="commentCount">3</em>`

	firstDate, firstOk := extractor.PostDate(NewPage(text))
	page := NewPage(text)
	secondDate, secondOk := extractor.PostDate(page)
	thirdDate, thirdOk := extractor.PostDate(page)

	require.Equal(t, firstOk, secondOk)
	require.Equal(t, firstOk, thirdOk)
	require.Equal(t, firstDate, secondDate)
	require.Equal(t, firstDate, thirdDate)
	require.Equal(t, extractor.CommentCount(page), extractor.CommentCount(NewPage(text)))
}

func TestWithRules(t *testing.T) {
	extractor := NewExtractor(chrono.Fixed{}).WithRules(nil, []Rule{
		Regex("custom", `replies=(\d+)`),
	})
	require.EqualValues(t, 12, extractor.CommentCount(NewPage("replies=12")))
	require.EqualValues(t, 0, extractor.CommentCount(NewPage(`<em id="commentCount">3</em>`)))

	date, ok := extractor.PostDate(NewPage(`<span class="blog_date">2023.1.2.</span>`))
	require.True(t, ok)
	require.Equal(t, "2023-01-02", date.String())
}

func TestUnwrapJSONP(t *testing.T) {
	cases := []struct {
		name     string
		body     string
		callback string
		expected string
	}{
		{"plain", `cb_1({"a":1})`, "cb_1", `{"a":1}`},
		{"leading noise and trailing semicolon", "/**/ cb_1 ({\"a\":1});\n", "cb_1", `{"a":1}`},
		{"parens in strings", `cb_1({"title":"smile :) (ok)","n":[1,(2)]})`, "cb_1", `{"title":"smile :) (ok)","n":[1,(2)]}`},
		{"escaped quote", `cb_1({"t":"a \") b"})`, "cb_1", `{"t":"a \") b"}`},
		{"callback name inside payload", `cb_1({"ref":"cb_1"})`, "cb_1", `{"ref":"cb_1"}`},
		{"prefix mention without paren", `var cb_1; cb_1({"a":2})`, "cb_1", `{"a":2}`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			payload, err := UnwrapJSONP(c.body, c.callback)
			require.NoError(t, err)
			require.Equal(t, c.expected, payload)
		})
	}

	failures := []struct {
		body     string
		callback string
	}{
		{`other({"a":1})`, "cb_1"},
		{`cb_1({"a":1}`, "cb_1"},
		{`cb_1({"a":1]})`, "cb_1"},
		{`cb_1({"a":1})`, ""},
	}
	for _, c := range failures {
		_, err := UnwrapJSONP(c.body, c.callback)
		var mismatch *EnvelopeMismatchError
		require.ErrorAs(t, err, &mismatch, c.body)
	}
}

func TestParseReactions(t *testing.T) {
	body := `blogstat_1_abc({"contents":[{"contentsId":"BLOG[a_1]","reactions":[{"reactionType":"like","count":27},{"reactionType":"fun","count":2}]}]})`
	payload, err := ParseReactions(body, "blogstat_1_abc")
	require.NoError(t, err)
	require.EqualValues(t, 27, payload.Count())

	expected := ReactionsPayload{Contents: []ReactionContent{{
		ContentsId: "BLOG[a_1]",
		Reactions: []Reaction{
			{ReactionType: "like", Count: 27},
			{ReactionType: "fun", Count: 2},
		},
	}}}
	if diff := cmp.Diff(expected, payload); diff != "" {
		t.Fatalf("unexpected payload (-want +got):\n%s", diff)
	}
}

func TestReactionsMissingPathIsZero(t *testing.T) {
	cases := []string{
		`cb({})`,
		`cb({"contents":[]})`,
		`cb({"contents":[{"contentsId":"x"}]})`,
		`cb({"contents":[{"reactions":[]}]})`,
		`cb({"contents":[{"reactions":[{"reactionType":"like"}]}]})`,
	}
	for _, body := range cases {
		payload, err := ParseReactions(body, "cb")
		require.NoError(t, err, body)
		require.Zero(t, payload.Count(), body)
	}

	payload, err := ParseReactions(`other({"contents":[{"reactions":[{"count":3}]}]})`, "cb")
	require.Error(t, err)
	require.Zero(t, payload.Count())

	payload, err = ParseReactions(`cb({"contents": "nope"})`, "cb")
	require.Error(t, err)
	require.Equal(t, ReactionsPayload{}, payload)
}
