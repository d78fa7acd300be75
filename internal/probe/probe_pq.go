package probe

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// OpenFunc matches sql.Open so tests can hand out sqlmock handles.
type OpenFunc func(driverName, dataSourceName string) (*sql.DB, error)

// PQConnector connects through database/sql with the lib/pq driver.
type PQConnector struct {
	open OpenFunc
}

func NewPQConnector() *PQConnector {
	return &PQConnector{open: sql.Open}
}

// NewPQConnectorWithOpener is NewPQConnector with a custom opener.
func NewPQConnectorWithOpener(open OpenFunc) *PQConnector {
	if open == nil {
		open = sql.Open
	}
	return &PQConnector{open: open}
}

func (c *PQConnector) Connect(ctx context.Context, target Target) error {
	db, err := c.open(DriverPQ, target.URL())
	if err != nil {
		return fmt.Errorf("open database: %s", target.Redact(err.Error()))
	}
	defer db.Close()

	// sql.Open is lazy; Ping forces the handshake.
	db.SetMaxOpenConns(1)
	return db.PingContext(ctx)
}
