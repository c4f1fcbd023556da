package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	report_resty_request  = "resty.request"
	report_resty_response = "resty.response"
	report_resty_failure  = "resty.failure"
)

type instrumentResty struct {
	tel       API
	tracer    trace.Tracer
	idcounter *uint64
}

// InstrumentResty reports every request made through client to tel and opens a
// span per attempt, retried attempts end the span of the previous attempt.
func InstrumentResty(client *resty.Client, tel API) {
	var idcounter uint64
	i := instrumentResty{
		tel:       tel,
		tracer:    otel.Tracer("blogstat/http"),
		idcounter: &idcounter,
	}

	client.OnBeforeRequest(i.onBeforeRequest)
	client.OnAfterResponse(i.onAfterResponse)
	client.OnError(i.onError)
	client.SetLogger(restyLogger{tel: tel})
}

type reqCtxKeyType int

var reqCtxKey reqCtxKeyType

type reqCtx struct {
	id      uint64
	attempt int
	// startTime only needs to be monotonic, so it does not go through chrono.
	startTime time.Time
	span      trace.Span
}

func (i instrumentResty) onBeforeRequest(_ *resty.Client, req *resty.Request) error {
	ctx := req.Context()

	attempt := 1
	id := uint64(0)
	if prev, ok := ctx.Value(reqCtxKey).(reqCtx); ok {
		prev.span.End()
		attempt = prev.attempt + 1
		id = prev.id
	} else {
		id = atomic.AddUint64(i.idcounter, 1)
	}

	ctx, span := i.tracer.Start(ctx, fmt.Sprintf("http %s", req.Method))
	span.SetAttributes(
		attribute.String("http.method", req.Method),
		attribute.String("http.url", req.URL),
		attribute.Int("http.attempt", attempt),
	)
	ctx = context.WithValue(ctx, reqCtxKey, reqCtx{
		id:        id,
		attempt:   attempt,
		startTime: time.Now(),
		span:      span,
	})
	i.tel.ReportDebug(report_resty_request, id, attempt, req.Method, req.URL)

	req.SetContext(ctx)
	return nil
}

func (i instrumentResty) onAfterResponse(_ *resty.Client, res *resty.Response) error {
	reqCtx, ok := res.Request.Context().Value(reqCtxKey).(reqCtx)
	if !ok {
		return nil
	}
	defer reqCtx.span.End()

	reqCtx.span.SetAttributes(attribute.Int("http.status_code", res.StatusCode()))
	if res.StatusCode() >= http.StatusBadRequest {
		reqCtx.span.SetStatus(codes.Error, res.Status())
	}

	i.tel.ReportDebug(
		report_resty_response,
		reqCtx.id,
		reqCtx.attempt,
		time.Since(reqCtx.startTime).String(),
		res.Status(),
	)
	return nil
}

func (i instrumentResty) onError(req *resty.Request, err error) {
	reqCtx, ok := req.Context().Value(reqCtxKey).(reqCtx)
	if !ok {
		i.tel.ReportDebug(report_resty_failure, req.Method, req.URL, err)
		return
	}
	defer reqCtx.span.End()

	reqCtx.span.RecordError(err)
	reqCtx.span.SetStatus(codes.Error, "request failed")

	// the caller decides whether a failed request is broken or expected,
	// so this only shows up when debugging.
	i.tel.ReportDebug(
		report_resty_failure,
		reqCtx.id,
		reqCtx.attempt,
		req.Method,
		req.URL,
		time.Since(reqCtx.startTime).String(),
		err,
	)
}

// restyLogger routes resty's internal logging (retry warnings and so on) into
// telemetry instead of its default stderr logger.
type restyLogger struct {
	tel API
}

func (l restyLogger) Errorf(format string, v ...any) {
	l.tel.ReportDebug("resty: " + fmt.Sprintf(format, v...))
}

func (l restyLogger) Warnf(format string, v ...any) {
	l.tel.ReportDebug("resty: " + fmt.Sprintf(format, v...))
}

func (l restyLogger) Debugf(format string, v ...any) {
	l.tel.ReportDebug("resty: " + fmt.Sprintf(format, v...))
}
