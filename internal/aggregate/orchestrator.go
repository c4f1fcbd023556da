// Package aggregate turns a batch of post urls into engagement metrics. One
// url failing in any way only removes that url from the result.
package aggregate

import (
	"context"
	"fmt"
	"time"

	"blogstat-backend/internal/components/assert"
	"blogstat-backend/internal/components/chrono"
	"blogstat-backend/internal/components/telemetry"
	"blogstat-backend/internal/extract"
	"blogstat-backend/internal/fetch"
	"blogstat-backend/internal/resolve"

	"github.com/mazen160/go-random"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var (
	tracer = otel.Tracer("internal/aggregate")
	meter  = otel.Meter("internal/aggregate")
)

const (
	report_extract_resolve   = "extract.resolve"
	report_extract_content   = "extract.content"
	report_extract_reactions = "extract.reactions"
	report_extract_envelope  = "extract.envelope"
	report_extract_no_date   = "extract.no-date"
	report_extract_panic     = "extract.panic"
	report_aggregate_done    = "aggregate.done"
	report_aggregate_counter = "aggregate.counter"
)

const DefaultConcurrency = 8

type Options struct {
	// Concurrency is the number of urls processed at once.
	Concurrency int
	// BatchTimeout bounds a whole batch, urls unfinished by then are dropped.
	// 0 means no bound.
	BatchTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{Concurrency: DefaultConcurrency}
}

// ExtractionResult is the outcome of one url. Valid = false means the url
// could not be resolved or fetched, it is a normal result and not an error.
type ExtractionResult struct {
	ReactionCount uint64              `json:"reaction_count"`
	CommentCount  uint64              `json:"comment_count"`
	PostDate      *extract.Date       `json:"post_date,omitempty"`
	Valid         bool                `json:"valid"`
	Identifier    *resolve.Identifier `json:"identifier,omitempty"`
}

type Entry struct {
	Reactions uint64 `json:"reactions"`
	Comments  uint64 `json:"comments"`
}

// Report maps the url as given by the caller to its metrics. Invalid urls
// have no key at all, a missing key means unavailable, never zero.
type Report map[string]Entry

type Orchestrator struct {
	fetcher   fetch.Client
	resolver  *resolve.Resolver
	extractor extract.Extractor
	clock     chrono.API
	tel       telemetry.API
	opts      Options
	results   metric.Int64Counter
	// suffix makes the reactions callback unique within one millisecond.
	suffix func() (string, error)
}

func NewOrchestrator(
	fetcher fetch.Client,
	resolver *resolve.Resolver,
	extractor extract.Extractor,
	clock chrono.API,
	tel telemetry.API,
	opts Options,
) *Orchestrator {
	assert.NotNil(fetcher)
	assert.NotNil(resolver)
	assert.NotNil(clock)
	assert.NotNil(tel)

	tel = telemetry.NewScopedAPI("aggregate", tel)
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}

	results, err := meter.Int64Counter(
		"blogstat.aggregate.results",
		metric.WithDescription("Number of urls processed, by validity."),
	)
	if err != nil {
		tel.ReportWarning(report_aggregate_counter, err)
	}

	return &Orchestrator{
		fetcher:   fetcher,
		resolver:  resolver,
		extractor: extractor,
		clock:     clock,
		tel:       tel,
		opts:      opts,
		results:   results,
		suffix: func() (string, error) {
			return random.String(8)
		},
	}
}

func (o *Orchestrator) callback() (string, int64) {
	now := o.clock.Now().UnixMilli()
	suffix, err := o.suffix()
	if err != nil {
		// the millisecond alone still matches what was sent
		suffix = "0"
	}
	return fmt.Sprintf("blogstat_%d_%s", now, suffix), now
}

// Extract runs resolve, content fetch and reactions fetch for a single url.
// It never fails, any failure before the fields are extracted yields an
// invalid result.
func (o *Orchestrator) Extract(ctx context.Context, rawUrl string) ExtractionResult {
	ctx, span := tracer.Start(ctx, "Extract")
	defer span.End()
	span.SetAttributes(attribute.String("url", rawUrl))

	result := o.extract(ctx, rawUrl)
	span.SetAttributes(attribute.Bool("valid", result.Valid))
	if o.results != nil {
		o.results.Add(ctx, 1, metric.WithAttributes(attribute.Bool("valid", result.Valid)))
	}
	return result
}

func (o *Orchestrator) extract(ctx context.Context, rawUrl string) ExtractionResult {
	span := trace.SpanFromContext(ctx)

	id, err := o.resolver.Resolve(ctx, rawUrl)
	if err != nil {
		o.tel.ReportDebug(report_extract_resolve, rawUrl, err)
		span.SetStatus(codes.Error, err.Error())
		return ExtractionResult{}
	}

	headers := map[string]string{"referer": id.Canonical()}
	endpoints := o.resolver.Endpoints()

	content, err := o.fetcher.Do(ctx, fetch.Request{
		URL:     endpoints.ContentURL(id),
		Headers: headers,
	})
	if err != nil {
		o.tel.ReportWarning(report_extract_content, rawUrl, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return ExtractionResult{}
	}

	callback, cacheBuster := o.callback()
	reactionsBody, err := o.fetcher.Do(ctx, fetch.Request{
		URL:     endpoints.ReactionsURL(id, callback, cacheBuster),
		Headers: headers,
	})
	if err != nil {
		o.tel.ReportWarning(report_extract_reactions, rawUrl, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return ExtractionResult{}
	}

	reactions, err := extract.ParseReactions(reactionsBody, callback)
	if err != nil {
		o.tel.ReportWarning(report_extract_envelope, rawUrl, err)
	}

	page := extract.NewPage(content)
	result := ExtractionResult{
		ReactionCount: reactions.Count(),
		CommentCount:  o.extractor.CommentCount(page),
		Valid:         true,
		Identifier:    &id,
	}
	date, ok := o.extractor.PostDate(page)
	if ok {
		result.PostDate = &date
	} else {
		o.tel.ReportWarning(report_extract_no_date, rawUrl)
	}
	return result
}

// ExtractAll runs Extract for every distinct url, at most Options.Concurrency
// at a time, and waits for all of them. A panic inside one url's pipeline is
// reported and turns that url invalid.
func (o *Orchestrator) ExtractAll(ctx context.Context, urls []string) map[string]ExtractionResult {
	ctx, span := tracer.Start(ctx, "ExtractAll")
	defer span.End()
	span.SetAttributes(attribute.Int("urls", len(urls)))

	if o.opts.BatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.BatchTimeout)
		defer cancel()
	}

	distinct := make([]string, 0, len(urls))
	seen := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		distinct = append(distinct, u)
	}

	// every task only writes its own slot
	results := make([]ExtractionResult, len(distinct))

	var group errgroup.Group
	group.SetLimit(o.opts.Concurrency)
	for i, u := range distinct {
		group.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					o.tel.ReportBroken(report_extract_panic, u, r)
					results[i] = ExtractionResult{}
				}
			}()
			results[i] = o.Extract(ctx, u)
			return nil
		})
	}
	group.Wait()

	out := make(map[string]ExtractionResult, len(distinct))
	for i, u := range distinct {
		out[u] = results[i]
	}
	return out
}

// NewReport keeps the valid results of a batch.
func NewReport(results map[string]ExtractionResult) Report {
	report := make(Report, len(results))
	for u, result := range results {
		if !result.Valid {
			continue
		}
		report[u] = Entry{
			Reactions: result.ReactionCount,
			Comments:  result.CommentCount,
		}
	}
	return report
}

// Aggregate is the batch entry point, a single url is a batch of one.
func (o *Orchestrator) Aggregate(ctx context.Context, urls ...string) Report {
	report := NewReport(o.ExtractAll(ctx, urls))
	o.tel.ReportDebug(report_aggregate_done, len(urls), len(report))
	return report
}
