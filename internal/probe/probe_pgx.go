package probe

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// PGXConnector connects with the native pgx protocol implementation.
type PGXConnector struct{}

func NewPGXConnector() *PGXConnector {
	return &PGXConnector{}
}

func (c *PGXConnector) Connect(ctx context.Context, target Target) error {
	cfg, err := pgx.ParseConfig(target.URL())
	if err != nil {
		return fmt.Errorf("parse connection config: %s", target.Redact(err.Error()))
	}
	if target.ConnectTimeout > 0 {
		cfg.ConnectTimeout = target.ConnectTimeout
	}

	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return err
	}
	// The server already accepted us; a failed Terminate does not change that.
	_ = conn.Close(ctx)
	return nil
}
