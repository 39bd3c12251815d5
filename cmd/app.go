package main

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/ivyaspire/leadtrack/internal/clientinfo"
	"github.com/ivyaspire/leadtrack/internal/config"
	"github.com/ivyaspire/leadtrack/internal/cookiewatch"
	"github.com/ivyaspire/leadtrack/internal/dispatch"
	"github.com/ivyaspire/leadtrack/internal/store"
	"github.com/ivyaspire/leadtrack/pkg/edge"
	"github.com/ivyaspire/leadtrack/pkg/pixel"
)

// cookieJar is a mutable CookieSource fed by incoming intent payloads. The
// attribution cookies live in the visitor's browser; the UI forwards them
// with its intents and the jar makes them visible to the monitor's poll.
type cookieJar struct {
	mu      sync.Mutex
	cookies map[string]string
}

func newCookieJar() *cookieJar {
	return &cookieJar{cookies: map[string]string{}}
}

// Set records a cookie value; empty values are ignored so a later intent
// without cookies never erases attribution.
func (j *cookieJar) Set(name, value string) {
	if value == "" {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cookies[name] = value
}

// Cookie implements cookiewatch.CookieSource.
func (j *cookieJar) Cookie(name string) (string, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	v, ok := j.cookies[name]
	return v, ok && v != ""
}

// app holds the wired pipeline shared by the serve and track commands.
type app struct {
	cfg        *config.Config
	store      store.Store
	jar        *cookieJar
	monitor    *cookiewatch.Monitor
	client     *clientinfo.Provider
	dispatcher *dispatch.Dispatcher
}

// initApp wires the full pipeline from config.
func initApp(ctx context.Context) (*app, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	capi := edge.NewClient(cfg.Supabase.BaseURL, cfg.Supabase.AnonKey,
		edge.WithIPTimeout(time.Duration(cfg.Supabase.IPTimeoutSecs)*time.Second),
		edge.WithRateLimit(rate.Limit(cfg.Supabase.RateLimit), cfg.Supabase.RateBurst),
	)

	jar := newCookieJar()
	monitor := cookiewatch.NewMonitor(jar,
		cookiewatch.WithInterval(time.Duration(cfg.Cookie.PollIntervalMs)*time.Millisecond),
		cookiewatch.WithMaxChecks(cfg.Cookie.MaxChecks),
	)
	client := clientinfo.NewProvider(capi)

	px := pixel.NewLogger(nil)
	pixel.Init(px, cfg.Meta.PixelID)

	dispatcher := dispatch.NewDispatcher(px, capi, monitor, client,
		dispatch.WithEnvironment(cfg.Environment),
	)

	return &app{
		cfg:        cfg,
		store:      st,
		jar:        jar,
		monitor:    monitor,
		client:     client,
		dispatcher: dispatcher,
	}, nil
}

// Close drains in-flight conversion sends and releases the store.
func (a *app) Close() {
	a.dispatcher.Wait()
	_ = a.store.Close()
}

// openStore creates the configured session store backend.
func openStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		if cfg.Store.DatabaseURL == "" {
			return nil, eris.New("cmd: store.database_url is required for the postgres driver")
		}
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, cfg.Environment)
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "leadtrack.db"
		}
		return store.NewSQLite(dsn, cfg.Environment)
	default:
		return nil, eris.Errorf("cmd: unknown store driver %q", cfg.Store.Driver)
	}
}
