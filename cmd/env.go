package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Tiliavir/telesales-timesheet/internal/config"
	"github.com/Tiliavir/telesales-timesheet/internal/docstore"
	"github.com/Tiliavir/telesales-timesheet/internal/docstore/httpstore"
	"github.com/Tiliavir/telesales-timesheet/internal/docstore/sqlitestore"
	"github.com/Tiliavir/telesales-timesheet/internal/gateway"
	"github.com/Tiliavir/telesales-timesheet/internal/storage"
	"github.com/Tiliavir/telesales-timesheet/internal/timesheet"
)

// env is what every command needs: data directory, config and logger.
type env struct {
	base string
	cfg  config.Config
	log  *slog.Logger
}

func loadEnv() env {
	base, err := storage.BaseDir()
	if err != nil {
		fail(err)
	}
	cfg, err := config.Load(base)
	if err != nil {
		fail(err)
	}
	level := cfg.Level()
	if verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	return env{base: base, cfg: cfg, log: log}
}

// openRemote opens the configured remote document store.
func (e env) openRemote(ctx context.Context) (docstore.Store, error) {
	r := e.cfg.Remote
	switch r.Driver {
	case config.DriverSQLite:
		return sqlitestore.Open(ctx, config.ResolvePath(e.base, r.Path), e.log)
	case config.DriverHTTP:
		return httpstore.New(ctx, httpstore.Options{
			BaseURL:     r.URL,
			Credentials: httpstore.Credentials{
				Token:        r.Token,
				TokenURL:     r.TokenURL,
				ClientID:     r.ClientID,
				ClientSecret: r.ClientSecret,
				CacheFile:    filepath.Join(e.base, "auth", "token.json"),
			},
			RequestsPerSecond: r.RequestsPerSecond,
			Log:               e.log,
		})
	}
	return nil, fmt.Errorf("unknown remote driver %q (sqlite, http)", r.Driver)
}

// agent returns the configured agent with its area routing applied.
func (e env) agent() gateway.Agent {
	a := e.cfg.Agent
	if a.ID == "" {
		usage(fmt.Sprintf("agent.id is not set in %s", config.Path(e.base)))
	}
	out := gateway.Agent{ID: a.ID, Name: a.Name, Email: a.Email}
	if a.Area != "" {
		area, ok := e.cfg.Area(a.Area)
		if !ok {
			fmt.Fprintf(os.Stderr, "Warning: area %q has no routing in config; entries carry no mission\n", a.Area)
		}
		out.Mission, out.Region = area.Mission, area.Region
	}
	return out
}

// service opens the remote store and builds the agent service. The returned
// store must be closed by the caller.
func (e env) service(ctx context.Context) (*timesheet.Service, docstore.Store) {
	agent := e.agent()
	remote, err := e.openRemote(ctx)
	if err != nil {
		fail(err)
	}
	svc := timesheet.New(timesheet.Options{
		Store:      storage.New(e.base, agent.ID),
		Gateway:    gateway.New(remote, e.log),
		Agent:      agent,
		Supervisor: e.cfg.Agent.Supervisor,
		Log:        e.log,
	})
	return svc, remote
}

// gateway opens the remote store for supervisor commands.
func (e env) gateway(ctx context.Context) (*gateway.Gateway, docstore.Store) {
	remote, err := e.openRemote(ctx)
	if err != nil {
		fail(err)
	}
	return gateway.New(remote, e.log), remote
}

// reviewer is the name stamped on supervisor decisions.
func (e env) reviewer() string {
	if e.cfg.Agent.Name != "" {
		return e.cfg.Agent.Name
	}
	return e.cfg.Agent.ID
}
