package commands

import (
	"context"
	"database/sql"

	"blogstat-backend/internal/aggregate"
	"blogstat-backend/internal/comments"
	"blogstat-backend/internal/components/chrono"
	"blogstat-backend/internal/components/telemetry"
	"blogstat-backend/internal/extract"
	"blogstat-backend/internal/fetch"
	"blogstat-backend/internal/resolve"
	"blogstat-backend/internal/snapshot"
)

// App holds every component of one invocation, built once from Config.
type App struct {
	Config       Config
	Clock        chrono.API
	Tel          telemetry.API
	Fetcher      *fetch.Fetcher
	Resolver     *resolve.Resolver
	Orchestrator *aggregate.Orchestrator
	Paginator    *comments.Paginator

	otel telemetry.Otel
	db   *sql.DB
}

func NewApp(cfg Config, clock chrono.API, tel telemetry.API) *App {
	fetcher := fetch.New(cfg.FetchOptions(), tel)
	resolver := resolve.NewResolver(fetcher, cfg.Endpoints, tel)

	return &App{
		Config:   cfg,
		Clock:    clock,
		Tel:      tel,
		Fetcher:  fetcher,
		Resolver: resolver,
		Orchestrator: aggregate.NewOrchestrator(
			fetcher,
			resolver,
			extract.NewExtractor(clock),
			clock,
			tel,
			cfg.AggregateOptions(),
		),
		Paginator: comments.NewPaginator(fetcher, resolver, clock, tel, cfg.CommentOptions()),
	}
}

// Store opens the snapshot database on first use, ok is false when none is configured.
func (a *App) Store() (store snapshot.Store, ok bool, err error) {
	if !a.Config.HasDatabase() {
		return snapshot.Store{}, false, nil
	}
	if a.db == nil {
		a.db, err = snapshot.OpenDB(a.Config.Database)
		if err != nil {
			return snapshot.Store{}, false, err
		}
	}
	return snapshot.NewStore(a.db, a.Clock, a.Tel), true, nil
}

func (a *App) Close(ctx context.Context) error {
	if a.db != nil {
		a.db.Close()
	}
	return a.otel.Shutdown(ctx)
}

type appKey struct{}

// appSlot is filled by the root pre run hook and read back by execute.
type appSlot struct {
	app *App
}

func withSlot(ctx context.Context, slot *appSlot) context.Context {
	return context.WithValue(ctx, appKey{}, slot)
}

func slotOf(ctx context.Context) *appSlot {
	return ctx.Value(appKey{}).(*appSlot)
}

func getApp(ctx context.Context) *App {
	return slotOf(ctx).app
}
