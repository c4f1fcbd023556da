package resolve

import (
	"fmt"
	"net/url"
	"strconv"
)

type Platform string

const (
	PlatformBlog Platform = "blog"
	PlatformCafe Platform = "cafe"
)

// Identifier is the canonical id pair of a post.
//
// blog: PrimaryID = blog handle, SecondaryID = logNo
// cafe: PrimaryID = club id, SecondaryID = article id
type Identifier struct {
	Platform    Platform `json:"platform"`
	PrimaryID   string   `json:"primary_id"`
	SecondaryID string   `json:"secondary_id"`
}

func (id Identifier) String() string {
	return fmt.Sprintf("%s:%s/%s", id.Platform, id.PrimaryID, id.SecondaryID)
}

// Canonical returns the public url of the post, resolving it yields id again
// without any network access.
func (id Identifier) Canonical() string {
	switch id.Platform {
	case PlatformCafe:
		return fmt.Sprintf("https://cafe.naver.com/ca-fe/cafes/%s/articles/%s", id.PrimaryID, id.SecondaryID)
	default:
		return fmt.Sprintf("https://blog.naver.com/%s/%s", id.PrimaryID, id.SecondaryID)
	}
}

// Endpoints are the upstream base urls, they only differ from the defaults in tests.
type Endpoints struct {
	Blog     string `json:"blog"`
	Cafe     string `json:"cafe"`
	BlogLike string `json:"blog_like"`
	CafeLike string `json:"cafe_like"`
	Apis     string `json:"apis"`
}

func DefaultEndpoints() Endpoints {
	return Endpoints{
		Blog:     "https://blog.naver.com",
		Cafe:     "https://cafe.naver.com",
		BlogLike: "https://blog.like.naver.com",
		CafeLike: "https://cafe.like.naver.com",
		Apis:     "https://apis.naver.com",
	}
}

// ContentURL is the html page holding the post body, for blogs this is the
// iframe document rather than the frameset the public url serves.
func (e Endpoints) ContentURL(id Identifier) string {
	query := url.Values{}
	switch id.Platform {
	case PlatformCafe:
		query.Set("clubid", id.PrimaryID)
		query.Set("articleid", id.SecondaryID)
		return e.Cafe + "/ArticleRead.nhn?" + query.Encode()
	default:
		query.Set("blogId", id.PrimaryID)
		query.Set("logNo", id.SecondaryID)
		query.Set("redirect", "Dlog")
		query.Set("widgetTypeCall", "true")
		return e.Blog + "/PostView.naver?" + query.Encode()
	}
}

// ReactionsURL is the JSONP like counter, callback and cacheBuster make every call unique.
func (e Endpoints) ReactionsURL(id Identifier, callback string, cacheBuster int64) string {
	base := e.BlogLike
	target := fmt.Sprintf("BLOG[%s_%s]", id.PrimaryID, id.SecondaryID)
	if id.Platform == PlatformCafe {
		base = e.CafeLike
		target = fmt.Sprintf("CAFE[%s_%s]", id.PrimaryID, id.SecondaryID)
	}

	query := url.Values{}
	query.Set("suppress_response_codes", "true")
	query.Set("q", target)
	query.Set("isDuplication", "false")
	query.Set("callback", callback)
	query.Set("_", strconv.FormatInt(cacheBuster, 10))
	return base + "/v1/search/contents?" + query.Encode()
}

// CommentsURL is one page of the cafe comment api, pages start at 1.
func (e Endpoints) CommentsURL(id Identifier, page int) string {
	query := url.Values{}
	query.Set("requestFrom", "A")
	query.Set("orderBy", "asc")
	return fmt.Sprintf(
		"%s/cafe-web/cafe-articleapi/v2/cafes/%s/articles/%s/comments/pages/%d?%s",
		e.Apis, id.PrimaryID, id.SecondaryID, page, query.Encode(),
	)
}

// ClubHomeURL is the cafe page embedding the club id for a cafe name.
func (e Endpoints) ClubHomeURL(cafeName string) string {
	return e.Cafe + "/" + url.PathEscape(cafeName)
}
