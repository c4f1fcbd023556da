// Package comments walks the paged cafe comment api of one article.
package comments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"blogstat-backend/internal/components/assert"
	"blogstat-backend/internal/components/chrono"
	"blogstat-backend/internal/components/telemetry"
	"blogstat-backend/internal/fetch"
	"blogstat-backend/internal/resolve"
)

const (
	report_paginator_page  = "paginator.page"
	report_paginator_done  = "paginator.done"
	report_paginator_limit = "paginator.limit"
)

var (
	ErrPageLimitExceeded   = errors.New("comment page limit exceeded")
	ErrUnsupportedPlatform = errors.New("comments are only available for cafe articles")
)

const DefaultMaxPages = 1000

type Options struct {
	UserAgent string
	// MaxPages bounds a single walk, an upstream that never stops reporting
	// more pages fails with ErrPageLimitExceeded.
	MaxPages int
}

func DefaultOptions() Options {
	return Options{
		UserAgent: fetch.DefaultUserAgent,
		MaxPages:  DefaultMaxPages,
	}
}

type Paginator struct {
	fetcher  fetch.Client
	resolver *resolve.Resolver
	clock    chrono.API
	tel      telemetry.API
	opts     Options
}

func NewPaginator(
	fetcher fetch.Client,
	resolver *resolve.Resolver,
	clock chrono.API,
	tel telemetry.API,
	opts Options,
) *Paginator {
	assert.NotNil(fetcher)
	assert.NotNil(resolver)
	assert.NotNil(clock)
	assert.NotNil(tel)

	if opts.MaxPages <= 0 {
		opts.MaxPages = DefaultMaxPages
	}
	if opts.UserAgent == "" {
		opts.UserAgent = fetch.DefaultUserAgent
	}

	return &Paginator{
		fetcher:  fetcher,
		resolver: resolver,
		clock:    clock,
		tel:      telemetry.NewScopedAPI("comments", tel),
		opts:     opts,
	}
}

// Comments resolves rawUrl and returns every comment of the article, see Walk.
func (p *Paginator) Comments(ctx context.Context, rawUrl string) ([]CommentRecord, error) {
	id, err := p.resolver.Resolve(ctx, rawUrl)
	if err != nil {
		return nil, err
	}
	return p.Walk(ctx, id, rawUrl)
}

type rawComment struct {
	ID     int64 `json:"id"`
	RefID  int64 `json:"refId"`
	IsRef  bool  `json:"isRef"`
	Writer struct {
		ID   string `json:"id"`
		Nick string `json:"nick"`
	} `json:"writer"`
	Content    string `json:"content"`
	UpdateDate int64  `json:"updateDate"`
	LikeCount  uint64 `json:"likeCount"`
}

type rawPage struct {
	Result struct {
		Comments struct {
			Items []rawComment `json:"items"`
		} `json:"comments"`
		HasNext bool `json:"hasNext"`
	} `json:"result"`
}

// Walk requests pages 1, 2, ... strictly one after another until a page says
// there is nothing more. Records keep page order then in-page order. A failed
// page fails the whole walk, no partial thread is returned.
func (p *Paginator) Walk(ctx context.Context, id resolve.Identifier, referer string) ([]CommentRecord, error) {
	if id.Platform != resolve.PlatformCafe {
		return nil, fmt.Errorf("%s: %w", id, ErrUnsupportedPlatform)
	}

	headers := map[string]string{
		"user-agent": p.opts.UserAgent,
		"referer":    referer,
	}
	endpoints := p.resolver.Endpoints()

	var records []CommentRecord
	for page := 1; ; page++ {
		if page > p.opts.MaxPages {
			p.tel.ReportWarning(report_paginator_limit, id.String(), p.opts.MaxPages)
			return nil, fmt.Errorf("%s: %w (%d)", id, ErrPageLimitExceeded, p.opts.MaxPages)
		}

		body, err := p.fetcher.Do(ctx, fetch.Request{
			URL:     endpoints.CommentsURL(id, page),
			Headers: headers,
		})
		if err != nil {
			return nil, fmt.Errorf("%s: comment page %d: %w", id, page, err)
		}

		var parsed rawPage
		err = json.Unmarshal([]byte(body), &parsed)
		if err != nil {
			return nil, fmt.Errorf("%s: decode comment page %d: %w", id, page, err)
		}

		items := parsed.Result.Comments.Items
		p.tel.ReportDebug(report_paginator_page, id.String(), page, len(items), parsed.Result.HasNext)
		for _, item := range items {
			records = append(records, p.toRecord(item))
		}

		if !parsed.Result.HasNext {
			p.tel.ReportCount(report_paginator_done, int64(len(records)))
			return records, nil
		}
	}
}

func (p *Paginator) toRecord(item rawComment) CommentRecord {
	record := CommentRecord{
		ID: item.ID,
		Author: Author{
			ID:          item.Writer.ID,
			DisplayName: item.Writer.Nick,
		},
		BodyLines:     NormalizeBody(item.Content),
		ReactionCount: item.LikeCount,
	}
	if item.UpdateDate > 0 {
		record.Timestamp = time.UnixMilli(item.UpdateDate).In(p.clock.Location())
	}
	// top level comments carry their own id as refId
	if item.RefID != 0 && item.RefID != item.ID {
		record.ParentID = item.RefID
		record.IsReply = true
	}
	if item.IsRef {
		record.IsReply = true
	}
	return record
}
