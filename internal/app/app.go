package app

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"myconnectionsvr/waitforpostgres/internal/audit"
	"myconnectionsvr/waitforpostgres/internal/config"
	"myconnectionsvr/waitforpostgres/internal/observability"
	"myconnectionsvr/waitforpostgres/internal/probe"
	"myconnectionsvr/waitforpostgres/internal/readiness"
)

type App struct {
	cfg    config.Config
	log    zerolog.Logger
	target probe.Target
	poller *readiness.Poller
	audit  *audit.Logger
}

func New(cfg config.Config, stdout, stderr io.Writer) (*App, error) {
	return NewWithConnector(cfg, nil, stdout, stderr)
}

// NewWithConnector is New with an explicit connector; nil selects one from
// cfg.Database.Driver.
func NewWithConnector(cfg config.Config, connector probe.Connector, stdout, stderr io.Writer) (*App, error) {
	logger := observability.NewLogger(observability.LoggerConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: stderr,
	})

	if connector == nil {
		var err error
		connector, err = probe.New(cfg.Database.Driver)
		if err != nil {
			return nil, fmt.Errorf("create connector: %w", err)
		}
	}

	target := probe.Target{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Name,
		SSLMode:  cfg.Database.SSLMode,
	}

	poller := readiness.New(connector, target, readiness.Options{
		Timeout:        cfg.Wait.Timeout,
		AttemptTimeout: cfg.Wait.AttemptTimeout(),
		Interval:       cfg.Wait.Interval,
		Stdout:         stdout,
		Stderr:         stderr,
		Logger:         logger,
	})

	return &App{
		cfg:    cfg,
		log:    logger,
		target: target,
		poller: poller,
		audit:  audit.NewLogger(cfg.AuditLogFile),
	}, nil
}

// Run performs one wait. It returns nil once the database accepted a
// connection and an error wrapping readiness.ErrTimeout otherwise.
func (a *App) Run(ctx context.Context) error {
	a.log.Debug().
		Str("driver", a.cfg.Database.Driver).
		Dur("attempt_timeout", a.cfg.Wait.AttemptTimeout()).
		Dur("interval", a.cfg.Wait.Interval).
		Msg("starting readiness poll")

	res := a.poller.Wait(ctx)
	a.record(res)
	return res.Err()
}

func (a *App) record(res readiness.Result) {
	if !a.audit.Enabled() {
		return
	}
	e := audit.Event{
		Target:    a.target.String(),
		User:      a.target.User,
		Outcome:   audit.OutcomeReady,
		Attempts:  res.Attempts,
		ElapsedMS: res.Elapsed.Milliseconds(),
	}
	if !res.Ready {
		e.Outcome = audit.OutcomeTimeout
		e.Detail = res.LastErr.Error()
	}
	if err := a.audit.Log(e); err != nil {
		a.log.Warn().Err(err).Str("path", a.cfg.AuditLogFile).Msg("write audit event")
	}
}
