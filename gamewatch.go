// Package gamewatch monitors a supervisord-managed game server: it normalizes
// supervisorctl status output and rebuilds player sessions from the server
// log, and serves both over an embeddable HTTP API.
package gamewatch

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/gamewatch/internal/auth"
	"github.com/loykin/gamewatch/internal/backup"
	cfg "github.com/loykin/gamewatch/internal/config"
	"github.com/loykin/gamewatch/internal/console"
	"github.com/loykin/gamewatch/internal/history"
	"github.com/loykin/gamewatch/internal/history/factory"
	"github.com/loykin/gamewatch/internal/metrics"
	"github.com/loykin/gamewatch/internal/monitor"
	"github.com/loykin/gamewatch/internal/server"
	"github.com/loykin/gamewatch/internal/session"
	"github.com/loykin/gamewatch/internal/settings"
	"github.com/loykin/gamewatch/internal/status"
	"github.com/loykin/gamewatch/internal/supervisor"
	itls "github.com/loykin/gamewatch/internal/tls"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = cfg.Config

type ProcessStatus = status.ProcessStatus

type Lifecycle = status.Lifecycle

const (
	Active     = status.Active
	Activating = status.Activating
	Inactive   = status.Inactive
	Failed     = status.Failed
	Unknown    = status.Unknown
)

type Session = session.Session

type Sessions = session.Sessions

type HistorySink = history.Sink

type HistoryEvent = history.Event

type StatusView = monitor.StatusView

type PlayersView = monitor.PlayersView

type BackupArchive = backup.Archive

// Normalize maps one supervisorctl status line to a ProcessStatus.
func Normalize(line string) ProcessStatus { return status.Normalize(line) }

// NormalizeQuery normalizes the full output and exit code of a status query.
func NormalizeQuery(program, output string, exitCode int) ProcessStatus {
	return status.FromQuery(program, output, exitCode)
}

// Reconstruct rebuilds player sessions from log lines in file order.
func Reconstruct(lines []string) Sessions { return session.Reconstruct(lines) }

func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// App is every service a Config describes, wired together.
type App struct {
	Config  *Config
	Logger  *slog.Logger
	Monitor *monitor.Service
	Router  *server.Router

	sinks []history.Sink
}

// Open builds an App. Nothing runs until Start or the handler is served.
func Open(c *Config, log *slog.Logger) (*App, error) {
	if c == nil {
		return nil, errors.New("nil config")
	}
	if log == nil {
		log = slog.Default()
	}

	ctrl := supervisor.New(c.Supervisor.Program, c.Supervisor.Timeout)
	if c.Supervisor.Binary != "" {
		ctrl.Binary = c.Supervisor.Binary
	}
	svc := monitor.New(monitor.Options{
		Controller: ctrl,
		Layout:     c.Layout(),
		StatusTTL:  c.Cache.StatusTTL,
		PlayersTTL: c.Cache.PlayersTTL,
		Logger:     log,
	})

	a := &App{Config: c, Logger: log, Monitor: svc}
	if c.History.Enabled {
		sink, err := factory.NewSinkFromDSN(c.History.DSN)
		if err != nil {
			return nil, fmt.Errorf("history sink: %w", err)
		}
		a.sinks = append(a.sinks, sink)
		svc.SetHistorySinks(a.sinks...)
	}
	if c.Metrics.Enabled {
		if err := RegisterMetricsDefault(); err != nil {
			log.Warn("failed to register metrics", "error", err)
		}
	}

	authn, err := auth.New(c.Server.Auth)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Router = server.NewRouter(server.Deps{
		Monitor:      svc,
		Console:      console.NewWriter(c.Game.CommandFile),
		Settings:     settings.NewStore(c.Game.SettingsFile),
		Backup:       backup.New(c.Game.WorldDir, c.Game.BackupDir),
		GameDir:      c.Game.Dir,
		ModsDir:      c.Game.ModsDir,
		Auth:         authn,
		ProtectReads: c.Server.Auth.ProtectReads,
		Metrics:      c.Metrics.Enabled,
		Logger:       log,
	}, c.Server.BasePath)
	return a, nil
}

func (a *App) Handler() http.Handler { return a.Router.Handler() }

// NewServer returns the configured HTTP(S) server, not yet listening.
func (a *App) NewServer() (*http.Server, error) {
	tc, err := itls.Setup(a.Config.Server.TLS)
	if err != nil {
		return nil, fmt.Errorf("tls: %w", err)
	}
	return server.NewServer(a.Config.Server, a.Handler(), tc), nil
}

// TLS reports whether NewServer serves HTTPS.
func (a *App) TLS() bool { return a.Config.Server.TLS.Enabled }

// Start begins background polling when cache.poll_interval or
// cache.poll_schedule is set.
func (a *App) Start() error {
	if sched := a.Config.Cache.PollSchedule; sched != "" {
		return a.Monitor.StartSchedule(sched)
	}
	a.Monitor.StartPoller(a.Config.Cache.PollInterval)
	return nil
}

// Close stops polling and releases history sinks.
func (a *App) Close() error {
	a.Monitor.StopPoller()
	var errs []error
	for _, s := range a.sinks {
		errs = append(errs, history.Close(s))
	}
	return errors.Join(errs...)
}

// ListenAndServe serves srv with or without TLS depending on its config.
func ListenAndServe(srv *http.Server) error {
	var err error
	if srv.TLSConfig != nil {
		err = srv.ListenAndServeTLS("", "")
	} else {
		err = srv.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
