package extract

import (
	"strconv"
	"strings"

	"blogstat-backend/internal/components/chrono"
)

// DefaultDateRules are ordered from the current editor markup to legacy
// markup, the metadata rule is the last resort.
var DefaultDateRules = []Rule{
	Regex("se-publish-date", `class="se_publishDate[^"]*"[^>]*>\s*([^<]+?)\s*<`),
	Regex("blog-date", `class="blog_date[^"]*"[^>]*>\s*([^<]+?)\s*<`),
	Regex("post-add-date", `class="_postAddDate[^"]*"[^>]*>\s*([^<]+?)\s*<`),
	Regex("cafe-date", `<(?:span|p|div) class="date"[^>]*>\s*([^<]+?)\s*<`),
	Selector("published-time-meta", `meta[property="article:published_time"]`, "content").
		Then(func(s string) string {
			day, _, _ := strings.Cut(s, "T")
			return day
		}),
}

// DefaultCommentRules capture loosely on purpose, a matched but non-numeric
// value counts as 0 rather than falling through to the next rule.
var DefaultCommentRules = []Rule{
	Regex("comment-count-em", `<em id="commentCount"[^>]*>\s*([^<]*?)\s*</em>`),
	Regex("comment-count-class", `class="[^"]*_commentCount[^"]*"[^>]*>\s*([^<]*?)\s*<`),
	Regex("comment-count-json", `"commentCount"\s*:\s*"?([\d,]+)`),
	Selector("cafe-button-comment", "a.button_comment strong.num", ""),
}

type Extractor struct {
	clock        chrono.API
	dateRules    []Rule
	commentRules []Rule
}

func NewExtractor(clock chrono.API) Extractor {
	return Extractor{
		clock:        clock,
		dateRules:    DefaultDateRules,
		commentRules: DefaultCommentRules,
	}
}

// WithRules replaces the rule lists, nil keeps the current list.
func (e Extractor) WithRules(dateRules, commentRules []Rule) Extractor {
	if dateRules != nil {
		e.dateRules = dateRules
	}
	if commentRules != nil {
		e.commentRules = commentRules
	}
	return e
}

// PostDate returns the publish date of the page, relative dates are resolved
// against the extractor's clock.
func (e Extractor) PostDate(p *Page) (Date, bool) {
	raw, _, ok := FirstMatch(p, e.dateRules)
	if !ok {
		return Date{}, false
	}
	return NormalizeDate(raw, e.clock.Now())
}

// CommentCount defaults to 0 when no rule matches or the match is not a number.
func (e Extractor) CommentCount(p *Page) uint64 {
	raw, _, ok := FirstMatch(p, e.commentRules)
	if !ok {
		return 0
	}
	return ParseCount(raw)
}

// ParseCount reads "1,234" style counters, anything else is 0.
func ParseCount(raw string) uint64 {
	cleaned := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	n, err := strconv.ParseUint(cleaned, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
