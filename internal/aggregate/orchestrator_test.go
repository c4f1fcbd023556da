package aggregate

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"blogstat-backend/internal/components/chrono"
	"blogstat-backend/internal/components/telemetry"
	"blogstat-backend/internal/extract"
	"blogstat-backend/internal/fetch"
	"blogstat-backend/internal/resolve"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, time.March, 5, 12, 0, 0, 0, chrono.Seoul())

type post struct {
	page      string
	reactions uint64
	// wrongCallback answers the reactions call with another callback name
	wrongCallback bool
	broken        bool
	slow          bool
}

type fakeNaver struct {
	posts map[string]post
	hits  sync.Map
	// served keeps the time the latest response per key was finished
	served sync.Map
}

func (f *fakeNaver) lastServed(key string) time.Time {
	at, ok := f.served.Load(key)
	if !ok {
		return time.Time{}
	}
	return at.(time.Time)
}

func (f *fakeNaver) hit(key string) {
	counter, _ := f.hits.LoadOrStore(key, new(atomic.Int64))
	counter.(*atomic.Int64).Add(1)
}

func (f *fakeNaver) hitCount(key string) int64 {
	counter, ok := f.hits.Load(key)
	if !ok {
		return 0
	}
	return counter.(*atomic.Int64).Load()
}

func (f *fakeNaver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var key string
	switch r.URL.Path {
	case "/PostView.naver":
		key = query.Get("blogId") + "/" + query.Get("logNo")
	case "/ArticleRead.nhn":
		key = query.Get("clubid") + "/" + query.Get("articleid")
	case "/v1/search/contents":
		target := query.Get("q")
		target = target[strings.Index(target, "[")+1 : len(target)-1]
		key = strings.Replace(target, "_", "/", 1)
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	f.hit(key)
	defer func() { f.served.Store(key, time.Now()) }()

	p, ok := f.posts[key]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if p.broken {
		w.WriteHeader(http.StatusBadGateway)
		return
	}
	if p.slow {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second * 5):
		}
		return
	}

	if r.URL.Path != "/v1/search/contents" {
		w.Header().Set("content-type", "text/html; charset=utf-8")
		w.Write([]byte(p.page))
		return
	}

	callback := query.Get("callback")
	if p.wrongCallback {
		callback = "someone_else"
	}
	fmt.Fprintf(w, `%s({"contents":[{"contentsId":"x","reactions":[{"reactionType":"like","count":%d}]}]});`, callback, p.reactions)
}

func newTestOrchestrator(t *testing.T, upstream http.Handler, opts Options) (*Orchestrator, *telemetry.RecordingAPI) {
	t.Helper()

	server := httptest.NewServer(upstream)
	t.Cleanup(server.Close)

	tel := telemetry.NewRecordingAPI()
	fetcher := fetch.New(fetch.Options{
		MaxRetries: 2,
		RetryDelay: time.Millisecond * 10,
		Timeout:    time.Second * 10,
	}, tel)

	endpoints := resolve.Endpoints{
		Blog:     server.URL,
		Cafe:     server.URL,
		BlogLike: server.URL,
		CafeLike: server.URL,
		Apis:     server.URL,
	}
	clock := chrono.Fixed{At: testNow}
	resolver := resolve.NewResolver(fetcher, endpoints, tel)
	return NewOrchestrator(fetcher, resolver, extract.NewExtractor(clock), clock, tel, opts), tel
}

func batchUpstream() *fakeNaver {
	return &fakeNaver{posts: map[string]post{
		"alice/100": {
			page:      `<span class="se_publishDate">2024. 3. 1. 10:00</span><em id="commentCount">5</em>`,
			reactions: 11,
		},
		"10/20": {
			page:      `<a class="button_comment"><strong class="num">2</strong></a>`,
			reactions: 3,
		},
		"broken/200": {broken: true},
		"bob/300": {
			page:          `<span class="blog_date">3시간 전</span><em id="commentCount">1,024</em>`,
			reactions:     99,
			wrongCallback: true,
		},
	}}
}

func TestAggregateIsolatesFailures(t *testing.T) {
	upstream := batchUpstream()
	orchestrator, tel := newTestOrchestrator(t, upstream, DefaultOptions())

	report := orchestrator.Aggregate(
		context.Background(),
		"https://blog.naver.com/alice/100",
		"https://cafe.naver.com/ca-fe/cafes/10/articles/20",
		"https://blog.naver.com/alice/notanumber",
		"https://blog.naver.com/broken/200",
		"https://blog.naver.com/bob/300",
	)

	expected := Report{
		"https://blog.naver.com/alice/100":                  {Reactions: 11, Comments: 5},
		"https://cafe.naver.com/ca-fe/cafes/10/articles/20": {Reactions: 3, Comments: 2},
		"https://blog.naver.com/bob/300":                    {Reactions: 0, Comments: 1024},
	}
	if diff := cmp.Diff(expected, report); diff != "" {
		t.Fatalf("unexpected report (-want +got):\n%s", diff)
	}

	// first attempt + 2 retries, then the url is given up
	require.EqualValues(t, 3, upstream.hitCount("broken/200"))
	require.Len(t, tel.Find(telemetry.KindWarning, report_extract_content), 1)
	require.Len(t, tel.Find(telemetry.KindWarning, report_extract_envelope), 1)
	require.Len(t, tel.Find(telemetry.KindWarning, report_extract_no_date), 1)
	require.Empty(t, tel.Find(telemetry.KindBroken, report_extract_panic))
}

func TestExtractAllKeepsDates(t *testing.T) {
	orchestrator, _ := newTestOrchestrator(t, batchUpstream(), DefaultOptions())

	results := orchestrator.ExtractAll(context.Background(), []string{
		"https://blog.naver.com/alice/100",
		"https://blog.naver.com/bob/300",
		"https://cafe.naver.com/ca-fe/cafes/10/articles/20",
		"https://blog.naver.com/alice/100",
		"not a url at all",
	})
	require.Len(t, results, 4)

	alice := results["https://blog.naver.com/alice/100"]
	require.True(t, alice.Valid)
	require.NotNil(t, alice.PostDate)
	require.Equal(t, "2024-03-01", alice.PostDate.String())
	require.Equal(t, &resolve.Identifier{Platform: resolve.PlatformBlog, PrimaryID: "alice", SecondaryID: "100"}, alice.Identifier)

	bob := results["https://blog.naver.com/bob/300"]
	require.True(t, bob.Valid)
	require.Equal(t, "2024-03-05", bob.PostDate.String())

	cafe := results["https://cafe.naver.com/ca-fe/cafes/10/articles/20"]
	require.True(t, cafe.Valid)
	require.Nil(t, cafe.PostDate)

	invalid := results["not a url at all"]
	require.Equal(t, ExtractionResult{}, invalid)
}

func TestExtractIsIdempotent(t *testing.T) {
	orchestrator, _ := newTestOrchestrator(t, batchUpstream(), DefaultOptions())

	first := orchestrator.Extract(context.Background(), "https://blog.naver.com/alice/100")
	second := orchestrator.Extract(context.Background(), "https://blog.naver.com/alice/100")
	require.True(t, first.Valid)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("results differ (-first +second):\n%s", diff)
	}
}

func TestAggregateSingleReference(t *testing.T) {
	orchestrator, _ := newTestOrchestrator(t, batchUpstream(), DefaultOptions())

	report := orchestrator.Aggregate(context.Background(), "https://blog.naver.com/alice/100")
	require.Equal(t, Report{"https://blog.naver.com/alice/100": {Reactions: 11, Comments: 5}}, report)

	require.Empty(t, orchestrator.Aggregate(context.Background(), "https://blog.naver.com/broken/200"))
	require.Empty(t, orchestrator.Aggregate(context.Background()))
}

func TestAggregateBatchTimeout(t *testing.T) {
	upstream := batchUpstream()
	upstream.posts["slow/400"] = post{slow: true}

	orchestrator, _ := newTestOrchestrator(t, upstream, Options{
		Concurrency:  4,
		BatchTimeout: time.Millisecond * 500,
	})

	start := time.Now()
	report := orchestrator.Aggregate(
		context.Background(),
		"https://blog.naver.com/alice/100",
		"https://blog.naver.com/slow/400",
	)
	require.Less(t, time.Since(start), time.Second*4)
	require.Contains(t, report, "https://blog.naver.com/alice/100")
	require.NotContains(t, report, "https://blog.naver.com/slow/400")
}

func TestAggregateSiblingsDoNotDelayHealthyEntries(t *testing.T) {
	upstream := batchUpstream()
	upstream.posts["slow/400"] = post{slow: true}

	orchestrator, _ := newTestOrchestrator(t, upstream, Options{
		Concurrency:  4,
		BatchTimeout: time.Second * 2,
	})

	start := time.Now()
	report := orchestrator.Aggregate(
		context.Background(),
		"https://blog.naver.com/alice/100",
		"https://cafe.naver.com/ca-fe/cafes/10/articles/20",
		"https://blog.naver.com/broken/200",
		"https://blog.naver.com/slow/400",
	)
	elapsed := time.Since(start)

	// the batch waits for the slow entry until the batch timeout
	require.GreaterOrEqual(t, elapsed, time.Millisecond*1500)
	require.Equal(t, Report{
		"https://blog.naver.com/alice/100":                  {Reactions: 11, Comments: 5},
		"https://cafe.naver.com/ca-fe/cafes/10/articles/20": {Reactions: 3, Comments: 2},
	}, report)

	// healthy entries and the broken one finish within their own retry
	// budget of 3 attempts 10ms apart, long before the slow sibling
	for _, key := range []string{"alice/100", "10/20", "broken/200"} {
		served := upstream.lastServed(key)
		require.False(t, served.IsZero(), key)
		require.Less(t, served.Sub(start), time.Second, key)
	}
	require.EqualValues(t, 3, upstream.hitCount("broken/200"))
}

type panickingFetcher struct {
	inner fetch.Client
}

func (p panickingFetcher) Do(ctx context.Context, req fetch.Request) (string, error) {
	if strings.Contains(req.URL, "blogId=alice") {
		panic("parser exploded")
	}
	return p.inner.Do(ctx, req)
}

func TestAggregateRecoversPanics(t *testing.T) {
	server := httptest.NewServer(batchUpstream())
	t.Cleanup(server.Close)

	tel := telemetry.NewRecordingAPI()
	fetcher := panickingFetcher{inner: fetch.New(fetch.Options{Timeout: time.Second * 5}, tel)}
	endpoints := resolve.Endpoints{
		Blog:     server.URL,
		Cafe:     server.URL,
		BlogLike: server.URL,
		CafeLike: server.URL,
		Apis:     server.URL,
	}
	clock := chrono.Fixed{At: testNow}
	orchestrator := NewOrchestrator(
		fetcher,
		resolve.NewResolver(fetcher, endpoints, tel),
		extract.NewExtractor(clock),
		clock,
		tel,
		DefaultOptions(),
	)

	report := orchestrator.Aggregate(
		context.Background(),
		"https://blog.naver.com/alice/100",
		"https://cafe.naver.com/ca-fe/cafes/10/articles/20",
	)
	require.Equal(t, Report{"https://cafe.naver.com/ca-fe/cafes/10/articles/20": {Reactions: 3, Comments: 2}}, report)

	broken := tel.Find(telemetry.KindBroken, report_extract_panic)
	require.Len(t, broken, 1)
	require.Equal(t, "https://blog.naver.com/alice/100", broken[0].Params[0])
}

func TestCallbackIsUnique(t *testing.T) {
	orchestrator, _ := newTestOrchestrator(t, batchUpstream(), DefaultOptions())

	first, ts := orchestrator.callback()
	second, _ := orchestrator.callback()
	require.Equal(t, testNow.UnixMilli(), ts)
	require.True(t, strings.HasPrefix(first, fmt.Sprintf("blogstat_%d_", ts)))
	require.NotEqual(t, first, second)
}
