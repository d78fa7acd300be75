package app

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"

	"myconnectionsvr/waitforpostgres/internal/config"
	"myconnectionsvr/waitforpostgres/internal/probe"
	"myconnectionsvr/waitforpostgres/internal/readiness"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

type stubConnector struct {
	err   error
	calls int
	last  probe.Target
}

func (s *stubConnector) Connect(_ context.Context, target probe.Target) error {
	s.calls++
	s.last = target
	return s.err
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Database: config.DatabaseConfig{
			Driver:   "pgx",
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Password: "topsecret",
			Name:     "postgres",
			SSLMode:  "disable",
		},
		Wait: config.WaitConfig{
			Timeout:        200 * time.Millisecond,
			ConnectTimeout: 3 * time.Second,
			Interval:       20 * time.Millisecond,
		},
		Logging: config.LoggingConfig{
			Level:  "debug",
			Format: "json",
		},
		AuditLogFile: filepath.Join(t.TempDir(), "audit", "wait.log"),
	}
}

func TestRunReady(t *testing.T) {
	cfg := testConfig(t)
	conn := &stubConnector{}
	var stdout, stderr bytes.Buffer

	a, err := NewWithConnector(cfg, conn, &stdout, &stderr)
	if err != nil {
		t.Fatalf("NewWithConnector() error: %v", err)
	}
	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if conn.calls != 1 {
		t.Fatalf("expected 1 connect call, got %d", conn.calls)
	}
	if conn.last.Database != "postgres" || conn.last.Password != "topsecret" {
		t.Fatalf("unexpected target passed to connector: %+v", conn.last)
	}
	if !strings.Contains(stdout.String(), "PostgreSQL is available!") {
		t.Fatalf("expected success line, got %q", stdout.String())
	}
	if strings.Contains(stderr.String(), "topsecret") || strings.Contains(stdout.String(), "topsecret") {
		t.Fatalf("password leaked into output")
	}

	b, err := os.ReadFile(cfg.AuditLogFile)
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	if !strings.Contains(string(b), `"outcome":"ready"`) {
		t.Fatalf("expected ready audit event, got %q", string(b))
	}
}

func TestRunTimeout(t *testing.T) {
	cfg := testConfig(t)
	conn := &stubConnector{err: errors.New(`password authentication failed for user "postgres": topsecret`)}
	var stdout, stderr bytes.Buffer

	a, err := NewWithConnector(cfg, conn, &stdout, &stderr)
	if err != nil {
		t.Fatalf("NewWithConnector() error: %v", err)
	}

	start := time.Now()
	err = a.Run(context.Background())
	if !errors.Is(err, readiness.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < cfg.Wait.Timeout {
		t.Fatalf("expected to wait at least %v, waited %v", cfg.Wait.Timeout, elapsed)
	}
	if conn.calls < 2 {
		t.Fatalf("expected retries, got %d calls", conn.calls)
	}
	if !strings.Contains(stderr.String(), "Could not connect to PostgreSQL after 0.2 seconds") {
		t.Fatalf("expected timeout message, got %q", stderr.String())
	}
	if !strings.Contains(stderr.String(), "Last error: password authentication failed") {
		t.Fatalf("expected last error message, got %q", stderr.String())
	}

	b, err := os.ReadFile(cfg.AuditLogFile)
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	for _, out := range []string{stdout.String(), stderr.String(), string(b)} {
		if strings.Contains(out, "topsecret") {
			t.Fatalf("password leaked: %q", out)
		}
	}
	if !strings.Contains(string(b), `"outcome":"timeout"`) {
		t.Fatalf("expected timeout audit event, got %q", string(b))
	}
}

func TestRunAuditFailureDoesNotChangeOutcome(t *testing.T) {
	cfg := testConfig(t)
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatalf("write blocker file: %v", err)
	}
	cfg.AuditLogFile = filepath.Join(blocker, "wait.log")
	var stdout, stderr bytes.Buffer

	a, err := NewWithConnector(cfg, &stubConnector{}, &stdout, &stderr)
	if err != nil {
		t.Fatalf("NewWithConnector() error: %v", err)
	}
	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if !strings.Contains(stderr.String(), "write audit event") {
		t.Fatalf("expected audit warning, got %q", stderr.String())
	}
}

func TestNewUnknownDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Driver = "mysql"

	_, err := New(cfg, &bytes.Buffer{}, &bytes.Buffer{})
	if !errors.Is(err, probe.ErrUnknownDriver) {
		t.Fatalf("expected ErrUnknownDriver, got %v", err)
	}
}
