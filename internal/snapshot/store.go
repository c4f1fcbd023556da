// Package snapshot keeps one row per url and day of aggregation results so
// that engagement can be followed over time.
package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"blogstat-backend/internal/aggregate"
	"blogstat-backend/internal/components/assert"
	"blogstat-backend/internal/components/chrono"
	"blogstat-backend/internal/components/telemetry"
	"blogstat-backend/internal/extract"
	"blogstat-backend/internal/resolve"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("internal/snapshot")

const (
	report_db_query = "db.query"
	report_db_scan  = "db.scan"
)

type Row struct {
	URL        string              `json:"url"`
	Day        extract.Date        `json:"day"`
	TakenAt    time.Time           `json:"taken_at"`
	Valid      bool                `json:"valid"`
	Reactions  uint64              `json:"reactions"`
	Comments   uint64              `json:"comments"`
	PostDate   *extract.Date       `json:"post_date,omitempty"`
	Identifier *resolve.Identifier `json:"identifier,omitempty"`
}

type Store struct {
	db    *sql.DB
	clock chrono.API
	tel   telemetry.API
}

func NewStore(db *sql.DB, clock chrono.API, tel telemetry.API) Store {
	assert.NotNil(db)
	assert.NotNil(clock)
	assert.NotNil(tel)

	return Store{
		db:    db,
		clock: clock,
		tel:   telemetry.NewScopedAPI("snapshot", tel),
	}
}

// Push stores results as the snapshot of the day `at` falls on. Rows of the
// same urls already stored for that day are replaced, so pushing twice a day
// keeps only the later batch.
func (s Store) Push(ctx context.Context, at time.Time, results map[string]aggregate.ExtractionResult) error {
	ctx, span := tracer.Start(ctx, "Push")
	defer span.End()
	span.SetAttributes(attribute.Int("urls", len(results)))

	fail := func(err error) error {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	day := extract.DateOf(at.In(s.clock.Location())).String()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.tel.ReportBroken(report_db_query, fmt.Errorf("begin tx: %w", err))
		return fail(err)
	}
	defer tx.Rollback()

	urls := make([]string, 0, len(results))
	for u := range results {
		urls = append(urls, u)
	}
	sort.Strings(urls)

	for _, u := range urls {
		_, err = tx.ExecContext(ctx, "delete from snapshot where url = ? and day = ?", u, day)
		if err != nil {
			s.tel.ReportBroken(report_db_query, err, "DeleteSnapshot", u, day)
			return fail(err)
		}

		result := results[u]
		var postDate, platform, primaryId, secondaryId sql.NullString
		if result.PostDate != nil {
			postDate = sql.NullString{String: result.PostDate.String(), Valid: true}
		}
		if result.Identifier != nil {
			platform = sql.NullString{String: string(result.Identifier.Platform), Valid: true}
			primaryId = sql.NullString{String: result.Identifier.PrimaryID, Valid: true}
			secondaryId = sql.NullString{String: result.Identifier.SecondaryID, Valid: true}
		}

		_, err = tx.ExecContext(
			ctx,
			`insert into snapshot(
				url, day, taken_at, valid, reactions, comments,
				post_date, platform, primary_id, secondary_id
			) values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			u, day, at.Unix(), result.Valid,
			int64(result.ReactionCount), int64(result.CommentCount),
			postDate, platform, primaryId, secondaryId,
		)
		if err != nil {
			s.tel.ReportBroken(report_db_query, err, "CreateSnapshot", u, day)
			return fail(err)
		}
	}

	err = tx.Commit()
	if err != nil {
		s.tel.ReportBroken(report_db_query, fmt.Errorf("commit: %w", err))
		return fail(err)
	}
	return nil
}

// History returns every stored day of url, oldest first.
func (s Store) History(ctx context.Context, u string) ([]Row, error) {
	ctx, span := tracer.Start(ctx, "History")
	defer span.End()

	rows, err := s.db.QueryContext(
		ctx,
		`select day, taken_at, valid, reactions, comments,
			post_date, platform, primary_id, secondary_id
		from snapshot where url = ?
		order by day asc, taken_at asc`,
		u,
	)
	if err != nil {
		s.tel.ReportBroken(report_db_query, err, "GetSnapshots", u)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var (
			day                                     string
			takenAt, reactions, comments            int64
			valid                                   bool
			postDate, platform, primaryId, secondId sql.NullString
		)
		err := rows.Scan(&day, &takenAt, &valid, &reactions, &comments, &postDate, &platform, &primaryId, &secondId)
		if err != nil {
			s.tel.ReportBroken(report_db_scan, err, u)
			return nil, err
		}

		row := Row{
			URL:       u,
			TakenAt:   time.Unix(takenAt, 0).In(s.clock.Location()),
			Valid:     valid,
			Reactions: uint64(reactions),
			Comments:  uint64(comments),
		}
		parsedDay, ok := extract.NormalizeAbsoluteDate(day)
		if !ok {
			err := fmt.Errorf("stored day %q is not a date", day)
			s.tel.ReportBroken(report_db_scan, err, u)
			return nil, err
		}
		row.Day = parsedDay
		if postDate.Valid {
			if date, ok := extract.NormalizeAbsoluteDate(postDate.String); ok {
				row.PostDate = &date
			}
		}
		if platform.Valid {
			row.Identifier = &resolve.Identifier{
				Platform:    resolve.Platform(platform.String),
				PrimaryID:   primaryId.String,
				SecondaryID: secondId.String,
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		s.tel.ReportBroken(report_db_scan, err, u)
		return nil, err
	}
	return out, nil
}
