// Package httpapi exposes aggregation, comment pagination and snapshot
// history over plain JSON http.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"blogstat-backend/internal/aggregate"
	"blogstat-backend/internal/comments"
	"blogstat-backend/internal/components/assert"
	"blogstat-backend/internal/components/chrono"
	"blogstat-backend/internal/components/telemetry"
	"blogstat-backend/internal/resolve"
	"blogstat-backend/internal/snapshot"
)

const (
	report_api_decode  = "api.decode"
	report_api_encode  = "api.encode"
	report_api_comment = "api.comments"
	report_api_store   = "api.store"
)

// MaxBatch caps the urls of one aggregate request.
const MaxBatch = 500

// MaxBodyBytes caps a request body, a full batch of long urls fits well below.
const MaxBodyBytes = 1 << 20

type Aggregator interface {
	ExtractAll(ctx context.Context, urls []string) map[string]aggregate.ExtractionResult
}

type CommentLister interface {
	Comments(ctx context.Context, rawUrl string) ([]comments.CommentRecord, error)
}

type HistoryStore interface {
	Push(ctx context.Context, at time.Time, results map[string]aggregate.ExtractionResult) error
	History(ctx context.Context, url string) ([]snapshot.Row, error)
}

type Server struct {
	aggregator Aggregator
	comments   CommentLister
	// store is nil when no snapshot database is configured.
	store HistoryStore
	clock chrono.API
	tel   telemetry.API
}

func NewServer(
	aggregator Aggregator,
	comments CommentLister,
	store HistoryStore,
	clock chrono.API,
	tel telemetry.API,
) Server {
	assert.NotNil(aggregator)
	assert.NotNil(comments)
	assert.NotNil(clock)
	assert.NotNil(tel)

	return Server{
		aggregator: aggregator,
		comments:   comments,
		store:      store,
		clock:      clock,
		tel:        telemetry.NewScopedAPI("httpapi", tel),
	}
}

func (s Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.health)
	mux.HandleFunc("POST /v1/aggregate", s.aggregate)
	mux.HandleFunc("POST /v1/comments", s.listComments)
	mux.HandleFunc("GET /v1/history", s.history)
	return mux
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s Server) write(w http.ResponseWriter, status int, body any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	err := json.NewEncoder(w).Encode(body)
	if err != nil {
		s.tel.ReportWarning(report_api_encode, err)
	}
}

func (s Server) fail(w http.ResponseWriter, status int, message string) {
	s.write(w, status, errorResponse{Error: message})
}

func (s Server) health(w http.ResponseWriter, r *http.Request) {
	s.write(w, http.StatusOK, map[string]string{"status": "ok"})
}

type AggregateRequest struct {
	Urls []string `json:"urls"`
	// Persist stores the batch as today's snapshot.
	Persist bool `json:"persist"`
}

type AggregateResponse struct {
	Report  aggregate.Report                      `json:"report"`
	Results map[string]aggregate.ExtractionResult `json:"results"`
}

func (s Server) aggregate(w http.ResponseWriter, r *http.Request) {
	var req AggregateRequest
	err := s.decode(w, r, &req)
	if err != nil {
		return
	}
	if len(req.Urls) == 0 {
		s.fail(w, http.StatusBadRequest, "urls must not be empty")
		return
	}
	if len(req.Urls) > MaxBatch {
		s.fail(w, http.StatusRequestEntityTooLarge, "too many urls")
		return
	}
	if req.Persist && s.store == nil {
		s.fail(w, http.StatusConflict, "no snapshot database is configured")
		return
	}

	results := s.aggregator.ExtractAll(r.Context(), req.Urls)

	report := aggregate.NewReport(results)

	if req.Persist {
		err = s.store.Push(r.Context(), s.clock.Now(), results)
		if err != nil {
			s.tel.ReportBroken(report_api_store, err)
			s.fail(w, http.StatusInternalServerError, "failed to store snapshot")
			return
		}
	}

	s.write(w, http.StatusOK, AggregateResponse{Report: report, Results: results})
}

// decode reads a size limited json body into dst, on failure the error
// response is already written.
func (s Server) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil {
		return nil
	}
	s.tel.ReportDebug(report_api_decode, err)
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		s.fail(w, http.StatusRequestEntityTooLarge, "request body too large")
	} else {
		s.fail(w, http.StatusBadRequest, "invalid request body")
	}
	return err
}

type CommentsRequest struct {
	Url string `json:"url"`
}

type CommentsResponse struct {
	Comments []comments.CommentRecord `json:"comments"`
}

func (s Server) listComments(w http.ResponseWriter, r *http.Request) {
	var req CommentsRequest
	err := s.decode(w, r, &req)
	if err != nil {
		return
	}
	if req.Url == "" {
		s.fail(w, http.StatusBadRequest, "invalid request body")
		return
	}

	records, err := s.comments.Comments(r.Context(), req.Url)
	var resolveErr *resolve.Error
	switch {
	case err == nil:
	case errors.As(err, &resolveErr):
		s.fail(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, comments.ErrUnsupportedPlatform):
		s.fail(w, http.StatusUnprocessableEntity, err.Error())
		return
	default:
		s.tel.ReportWarning(report_api_comment, req.Url, err)
		s.fail(w, http.StatusBadGateway, err.Error())
		return
	}

	if records == nil {
		records = []comments.CommentRecord{}
	}
	s.write(w, http.StatusOK, CommentsResponse{Comments: records})
}

type HistoryResponse struct {
	Rows []snapshot.Row `json:"rows"`
}

func (s Server) history(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.fail(w, http.StatusConflict, "no snapshot database is configured")
		return
	}
	u := r.URL.Query().Get("url")
	if u == "" {
		s.fail(w, http.StatusBadRequest, "missing url")
		return
	}

	rows, err := s.store.History(r.Context(), u)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	if rows == nil {
		rows = []snapshot.Row{}
	}
	s.write(w, http.StatusOK, HistoryResponse{Rows: rows})
}
