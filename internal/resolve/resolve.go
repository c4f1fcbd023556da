// Package resolve turns the many link formats people paste (canonical, mobile,
// iframe wrapped, percent-encoded) into an Identifier.
package resolve

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"blogstat-backend/internal/components/assert"
	"blogstat-backend/internal/components/telemetry"
	"blogstat-backend/internal/fetch"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	report_resolver_club_id = "resolver.club-id"
)

// Error is returned for input that does not describe a post, or when the
// extra lookup needed to complete an identifier fails.
type Error struct {
	Input  string
	Reason string
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("resolve %q: %s: %v", e.Input, e.Reason, e.Cause)
	}
	return fmt.Sprintf("resolve %q: %s", e.Input, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

var (
	blogHosts = map[string]bool{"blog.naver.com": true, "m.blog.naver.com": true}
	cafeHosts = map[string]bool{"cafe.naver.com": true, "m.cafe.naver.com": true}

	handleRegex    = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	cafePathRegex  = regexp.MustCompile(`^/(?:ca-fe/(?:web/)?|f-e/)?cafes/([^/]+)/articles/([^/]+)/?$`)
	iframeParams   = []string{"iframe_url_utf8", "iframe_url"}
	clubIdPatterns = []*regexp.Regexp{
		regexp.MustCompile(`g_sClubId\s*=\s*["']?(\d+)`),
		regexp.MustCompile(`"clubid"\s*:\s*"?(\d+)`),
		regexp.MustCompile(`(?i)clubid=(\d+)`),
	}
)

type Resolver struct {
	fetcher   fetch.Client
	endpoints Endpoints
	tel       telemetry.API
	// cafe name -> club id, the mapping never changes but the cache is bounded anyway
	clubIds *expirable.LRU[string, string]
}

func NewResolver(fetcher fetch.Client, endpoints Endpoints, tel telemetry.API) *Resolver {
	assert.NotNil(fetcher)
	assert.NotNil(tel)
	assert.NotEmptyStr(endpoints.Blog)
	assert.NotEmptyStr(endpoints.Cafe)
	assert.NotEmptyStr(endpoints.BlogLike)
	assert.NotEmptyStr(endpoints.CafeLike)
	assert.NotEmptyStr(endpoints.Apis)

	return &Resolver{
		fetcher:   fetcher,
		endpoints: endpoints,
		tel:       telemetry.NewScopedAPI("resolve", tel),
		clubIds:   expirable.NewLRU[string, string](1024, nil, time.Minute*15),
	}
}

func (r *Resolver) Endpoints() Endpoints {
	return r.endpoints
}

// Resolve parses rawUrl into an Identifier. The only network access is the club
// id lookup for `cafe.naver.com/{name}/{articleId}` links, it goes through the
// fetcher so it is retried like any other request.
func (r *Resolver) Resolve(ctx context.Context, rawUrl string) (Identifier, error) {
	input := strings.TrimSpace(rawUrl)
	if input == "" {
		return Identifier{}, &Error{Input: rawUrl, Reason: "empty url"}
	}
	if !strings.Contains(input, "://") {
		input = "https://" + input
	}

	parsed, err := url.Parse(input)
	if err != nil {
		return Identifier{}, &Error{Input: rawUrl, Reason: "malformed url", Cause: err}
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return Identifier{}, &Error{Input: rawUrl, Reason: "unsupported scheme " + parsed.Scheme}
	}

	host := strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")
	switch {
	case blogHosts[host]:
		return resolveBlog(rawUrl, parsed)
	case cafeHosts[host]:
		return r.resolveCafe(ctx, rawUrl, parsed)
	}
	return Identifier{}, &Error{Input: rawUrl, Reason: "unsupported host " + host}
}

func pathSegments(u *url.URL) []string {
	var out []string
	for _, segment := range strings.Split(u.Path, "/") {
		if segment != "" {
			out = append(out, segment)
		}
	}
	return out
}

// queryFold looks a query key up case insensitively, links in the wild use
// both `logNo` and `logno`.
func queryFold(values url.Values, key string) string {
	for k, v := range values {
		if strings.EqualFold(k, key) && len(v) > 0 {
			return v[0]
		}
	}
	return ""
}

// canonicalNumeric returns value re-formatted from its parsed number, so "+100"
// and "0100" both become "100".
func canonicalNumeric(input, name, value string) (string, error) {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return "", &Error{Input: input, Reason: fmt.Sprintf("%s %q is not numeric", name, value)}
	}
	if n <= 0 {
		return "", &Error{Input: input, Reason: fmt.Sprintf("%s %q is not positive", name, value)}
	}
	return strconv.FormatInt(n, 10), nil
}

func resolveBlog(input string, u *url.URL) (Identifier, error) {
	query := u.Query()
	segments := pathSegments(u)

	blogId := queryFold(query, "blogId")
	logNo := queryFold(query, "logNo")

	switch {
	case logNo != "" && blogId == "":
		// blog.naver.com/{blogId}?Redirect=Log&logNo=..
		if len(segments) == 1 && !strings.Contains(segments[0], ".") {
			blogId = segments[0]
		}
	case logNo == "" && blogId == "":
		if len(segments) != 2 {
			return Identifier{}, &Error{Input: input, Reason: "expected /{blogId}/{logNo}"}
		}
		blogId, logNo = segments[0], segments[1]
	}

	if !handleRegex.MatchString(blogId) {
		return Identifier{}, &Error{Input: input, Reason: fmt.Sprintf("invalid blog id %q", blogId)}
	}
	logNo, err := canonicalNumeric(input, "logNo", logNo)
	if err != nil {
		return Identifier{}, err
	}

	return Identifier{
		Platform:    PlatformBlog,
		PrimaryID:   blogId,
		SecondaryID: logNo,
	}, nil
}

// unescapeNested percent-decodes until the value stops changing, `iframe_url_utf8`
// carries a url that was encoded twice.
func unescapeNested(value string) string {
	for i := 0; i < 3 && strings.Contains(value, "%"); i++ {
		decoded, err := url.QueryUnescape(value)
		if err != nil || decoded == value {
			break
		}
		value = decoded
	}
	return value
}

// tokens splits a (decoded) url into its `key=value` pairs, keys are lowercased.
func tokens(value string) map[string]string {
	out := map[string]string{}
	fields := strings.FieldsFunc(value, func(r rune) bool {
		return r == '?' || r == '&' || r == ';'
	})
	for _, field := range fields {
		key, val, found := strings.Cut(field, "=")
		if !found {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		if _, exists := out[key]; !exists {
			out[key] = strings.TrimSpace(val)
		}
	}
	return out
}

func cafeFromTokens(input string, pairs map[string]string) (Identifier, bool, error) {
	clubId, hasClub := pairs["clubid"]
	articleId, hasArticle := pairs["articleid"]
	if !hasClub || !hasArticle {
		return Identifier{}, false, nil
	}
	clubId, err := canonicalNumeric(input, "clubid", clubId)
	if err != nil {
		return Identifier{}, true, err
	}
	articleId, err = canonicalNumeric(input, "articleid", articleId)
	if err != nil {
		return Identifier{}, true, err
	}
	return Identifier{
		Platform:    PlatformCafe,
		PrimaryID:   clubId,
		SecondaryID: articleId,
	}, true, nil
}

func (r *Resolver) resolveCafe(ctx context.Context, input string, u *url.URL) (Identifier, error) {
	query := u.Query()

	// cafe.naver.com/{name}?iframe_url_utf8=<encoded ArticleRead url>
	for _, param := range iframeParams {
		inner := queryFold(query, param)
		if inner == "" {
			continue
		}
		id, found, err := cafeFromTokens(input, tokens(unescapeNested(inner)))
		if err != nil {
			return Identifier{}, err
		}
		if !found {
			return Identifier{}, &Error{Input: input, Reason: param + " is missing clubid or articleid"}
		}
		return id, nil
	}

	// cafe.naver.com/ArticleRead.nhn?clubid=..&articleid=..
	id, found, err := cafeFromTokens(input, tokens(u.RawQuery))
	if err != nil {
		return Identifier{}, err
	}
	if found {
		return id, nil
	}

	// cafe.naver.com/ca-fe/cafes/{clubid}/articles/{articleid}
	if groups := cafePathRegex.FindStringSubmatch(u.Path); groups != nil {
		id, _, err := cafeFromTokens(input, map[string]string{
			"clubid":    groups[1],
			"articleid": groups[2],
		})
		return id, err
	}

	// cafe.naver.com/{name}/{articleid}
	segments := pathSegments(u)
	if len(segments) != 2 {
		return Identifier{}, &Error{Input: input, Reason: "expected /{cafe}/{articleId}"}
	}
	cafeName, articleId := segments[0], segments[1]
	if !handleRegex.MatchString(cafeName) {
		return Identifier{}, &Error{Input: input, Reason: fmt.Sprintf("invalid cafe name %q", cafeName)}
	}
	articleId, err = canonicalNumeric(input, "articleid", articleId)
	if err != nil {
		return Identifier{}, err
	}

	clubId, err := r.clubId(ctx, cafeName)
	if err != nil {
		return Identifier{}, &Error{Input: input, Reason: "lookup club id of " + cafeName, Cause: err}
	}

	return Identifier{
		Platform:    PlatformCafe,
		PrimaryID:   clubId,
		SecondaryID: articleId,
	}, nil
}

var errClubIdNotFound = fmt.Errorf("club id not found in cafe page")

func (r *Resolver) clubId(ctx context.Context, cafeName string) (string, error) {
	key := strings.ToLower(cafeName)
	if cached, hit := r.clubIds.Get(key); hit {
		return cached, nil
	}

	page, err := r.fetcher.Do(ctx, fetch.Request{URL: r.endpoints.ClubHomeURL(cafeName)})
	if err != nil {
		r.tel.ReportWarning(report_resolver_club_id, cafeName, err)
		return "", err
	}

	for _, pattern := range clubIdPatterns {
		groups := pattern.FindStringSubmatch(page)
		if len(groups) < 2 {
			continue
		}
		clubId, err := canonicalNumeric(cafeName, "clubid", groups[1])
		if err != nil {
			r.tel.ReportBroken(report_resolver_club_id, fmt.Errorf("%w: %s: %v", errClubIdNotFound, cafeName, err))
			return "", errClubIdNotFound
		}
		r.clubIds.Add(key, clubId)
		return clubId, nil
	}

	r.tel.ReportBroken(report_resolver_club_id, fmt.Errorf("%w: %s", errClubIdNotFound, cafeName))
	return "", errClubIdNotFound
}
