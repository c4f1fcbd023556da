// Package fetch is the only network primitive of the scrapers, every upstream
// request (pages, JSONP, comment pages) goes through a Fetcher so that it
// inherits the same retry policy.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"blogstat-backend/internal/components/assert"
	"blogstat-backend/internal/components/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"
)

const (
	report_fetcher_do     = "fetcher.do"
	report_fetcher_decode = "fetcher.decode"
)

const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

type Options struct {
	UserAgent string
	// MaxRetries is the number of attempts made after the first one fails.
	MaxRetries int
	// RetryDelay is slept between every attempt, it does not grow.
	RetryDelay time.Duration
	// Timeout bounds a single attempt.
	Timeout time.Duration
	// RequestsPerSecond paces every request of this fetcher, 0 disables pacing.
	RequestsPerSecond float64
	CloudflareBypass  bool
}

func DefaultOptions() Options {
	return Options{
		UserAgent:  DefaultUserAgent,
		MaxRetries: 3,
		RetryDelay: time.Second,
		Timeout:    time.Second * 15,
	}
}

// Error is returned once the retry budget of a request is spent. Status is 0
// when the last attempt did not produce a response at all.
type Error struct {
	Method string
	URL    string
	Status int
	Cause  error
}

var ErrStatus = errors.New("non-2xx status")

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s %s: status %d: %v", e.Method, e.URL, e.Status, e.Cause)
	}
	return fmt.Sprintf("fetch %s %s: %v", e.Method, e.URL, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

type Request struct {
	// Method defaults to GET.
	Method  string
	URL     string
	Query   url.Values
	Headers map[string]string
	// Body is sent as is by resty, a struct or map is encoded as JSON.
	Body any
}

// Client is what consumers of a Fetcher depend on.
type Client interface {
	Do(ctx context.Context, req Request) (string, error)
}

type Fetcher struct {
	http *resty.Client
	tel  telemetry.API
}

func New(opts Options, tel telemetry.API) *Fetcher {
	assert.NotNil(tel)
	assert.True(opts.MaxRetries >= 0, "negative retry budget: %d", opts.MaxRetries)

	tel = telemetry.NewScopedAPI("fetch", tel)

	httpClient := resty.New()
	if opts.CloudflareBypass {
		httpClient.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(httpClient.GetClient().Transport)
	}
	if opts.UserAgent != "" {
		httpClient.SetHeader("user-agent", opts.UserAgent)
	}
	if opts.Timeout > 0 {
		httpClient.SetTimeout(opts.Timeout)
	}

	// equal wait and max wait turns resty's jittered backoff into a fixed delay
	httpClient.SetRetryCount(opts.MaxRetries)
	httpClient.SetRetryWaitTime(opts.RetryDelay)
	httpClient.SetRetryMaxWaitTime(opts.RetryDelay)
	httpClient.AddRetryCondition(shouldRetry)

	if opts.RequestsPerSecond > 0 {
		// burst of 1 keeps requests evenly spaced
		limiter := rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
		httpClient.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
			return limiter.Wait(req.Context())
		})
	}

	telemetry.InstrumentResty(httpClient, tel)

	return &Fetcher{http: httpClient, tel: tel}
}

func shouldRetry(res *resty.Response, err error) bool {
	if err != nil {
		// a per-attempt timeout is retried, a caller that gave up is not
		if res != nil && res.Request != nil && res.Request.Context().Err() != nil {
			return false
		}
		return !errors.Is(err, context.Canceled)
	}
	return res == nil || !res.IsSuccess()
}

// Get is a shorthand for a GET Request.
func (f *Fetcher) Get(ctx context.Context, rawURL string, headers map[string]string) (string, error) {
	return f.Do(ctx, Request{URL: rawURL, Headers: headers})
}

// Do performs req, retrying transport failures and non-2xx responses, and
// returns the body decoded to UTF-8. No response is cached.
func (f *Fetcher) Do(ctx context.Context, req Request) (string, error) {
	method := req.Method
	if method == "" {
		method = resty.MethodGet
	}

	r := f.http.R().
		SetContext(ctx).
		SetHeaders(req.Headers)
	if req.Query != nil {
		r.SetQueryParamsFromValues(req.Query)
	}
	if req.Body != nil {
		r.SetBody(req.Body)
	}

	res, err := r.Execute(method, req.URL)
	if err != nil {
		f.tel.ReportDebug(report_fetcher_do, method, req.URL, err)
		return "", &Error{Method: method, URL: req.URL, Cause: err}
	}
	if !res.IsSuccess() {
		f.tel.ReportDebug(report_fetcher_do, method, req.URL, res.Status())
		return "", &Error{
			Method: method,
			URL:    req.URL,
			Status: res.StatusCode(),
			Cause:  ErrStatus,
		}
	}

	return f.decode(res.Body(), res.Header().Get("content-type")), nil
}

func (f *Fetcher) decode(body []byte, contentType string) string {
	enc, name, certain := charset.DetermineEncoding(body, contentType)
	// windows-1252 is only a guess when nothing was declared, korean pages that
	// declare nothing are utf-8 past the sniffed prefix.
	if name == "utf-8" || (!certain && name == "windows-1252") {
		return string(body)
	}
	decoded, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		f.tel.ReportWarning(report_fetcher_decode, name, err)
		return string(body)
	}
	return string(decoded)
}
