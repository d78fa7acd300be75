package probe

import (
	"context"
	"errors"
	"fmt"
)

const (
	DriverPGX = "pgx"
	DriverPQ  = "postgres"
)

var ErrUnknownDriver = errors.New("unknown database driver")

// Connector opens a single connection to target, closes it and reports
// whether the open succeeded.
type Connector interface {
	Connect(ctx context.Context, target Target) error
}

// New returns the connector for the named driver.
func New(driver string) (Connector, error) {
	switch driver {
	case "", DriverPGX:
		return NewPGXConnector(), nil
	case DriverPQ:
		return NewPQConnector(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}
