package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

type Config struct {
	Database     DatabaseConfig
	Wait         WaitConfig
	Logging      LoggingConfig
	AuditLogFile string
}

type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

type WaitConfig struct {
	Timeout        time.Duration
	ConnectTimeout time.Duration
	Interval       time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

// AttemptTimeout is the per-attempt connect timeout, always strictly shorter
// than the overall timeout so at least one retry cycle fits.
func (w WaitConfig) AttemptTimeout() time.Duration {
	if w.ConnectTimeout > 0 && w.ConnectTimeout < w.Timeout {
		return w.ConnectTimeout
	}
	return w.Timeout / 2
}

const (
	defaultTimeoutSec        = 60
	defaultConnectTimeoutSec = 3
	defaultInterval          = time.Second
)

type flagValues struct {
	host, port, user, password string
	name, sslMode, driver      string
	timeout, connectTimeout    int
	interval                   time.Duration
	logLevel, logFormat        string
	auditLog, envFile          string
}

// Load parses args (without the program name). Usage and parse errors are
// written to output; --help yields pflag.ErrHelp.
func Load(args []string, output io.Writer) (Config, error) {
	fs := pflag.NewFlagSet("waitforpostgres", pflag.ContinueOnError)
	fs.SetOutput(output)
	fs.SortFlags = false

	var v flagValues
	fs.StringVar(&v.host, "db_host", "", "database host (env DB_HOST)")
	fs.StringVar(&v.port, "db_port", "", "database port (env DB_PORT)")
	fs.StringVar(&v.user, "db_user", "", "database user (env DB_USER)")
	fs.StringVar(&v.password, "db_password", "", "database password (env DB_PASSWORD)")
	fs.IntVar(&v.timeout, "timeout", defaultTimeoutSec, "overall timeout in seconds (env WAIT_FOR_POSTGRES_TIMEOUT_SEC)")
	fs.StringVar(&v.name, "db_name", "postgres", "database to connect to (env DB_NAME)")
	fs.StringVar(&v.sslMode, "db_sslmode", "disable", "sslmode: disable, require, verify-ca, verify-full (env DB_SSLMODE)")
	fs.StringVar(&v.driver, "driver", "pgx", "client driver: pgx or postgres (env WAIT_FOR_POSTGRES_DRIVER)")
	fs.IntVar(&v.connectTimeout, "connect_timeout", defaultConnectTimeoutSec, "per-attempt connect timeout in seconds (env WAIT_FOR_POSTGRES_CONNECT_TIMEOUT_SEC)")
	fs.DurationVar(&v.interval, "interval", defaultInterval, "pause between attempts (env WAIT_FOR_POSTGRES_INTERVAL)")
	fs.StringVar(&v.logLevel, "log_level", "warn", "log level: debug, info, warn, error (env LOG_LEVEL)")
	fs.StringVar(&v.logFormat, "log_format", "text", "log format: text, json (env LOG_FORMAT)")
	fs.StringVar(&v.auditLog, "audit_log", "", "append a JSON line per run to this file (env AUDIT_LOG_FILE)")
	fs.StringVar(&v.envFile, "env_file", "", "load environment defaults from this file")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if fs.NArg() > 0 {
		return Config{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	if v.envFile != "" {
		// godotenv.Load never overrides variables that are already set.
		if err := godotenv.Load(v.envFile); err != nil {
			return Config{}, fmt.Errorf("load env file %s: %w", v.envFile, err)
		}
	}

	r := resolver{fs: fs}
	host := r.required("db_host", "DB_HOST", v.host)
	portRaw := r.required("db_port", "DB_PORT", v.port)
	user := r.required("db_user", "DB_USER", v.user)
	password := r.required("db_password", "DB_PASSWORD", v.password)

	cfg := Config{
		Database: DatabaseConfig{
			Driver:   r.optional("driver", "WAIT_FOR_POSTGRES_DRIVER", v.driver),
			Host:     strings.TrimSpace(host),
			User:     user,
			Password: password,
			Name:     r.optional("db_name", "DB_NAME", v.name),
			SSLMode:  r.optional("db_sslmode", "DB_SSLMODE", v.sslMode),
		},
		Wait: WaitConfig{
			Timeout:        time.Duration(r.intValue("timeout", "WAIT_FOR_POSTGRES_TIMEOUT_SEC", v.timeout)) * time.Second,
			ConnectTimeout: time.Duration(r.intValue("connect_timeout", "WAIT_FOR_POSTGRES_CONNECT_TIMEOUT_SEC", v.connectTimeout)) * time.Second,
			Interval:       r.durationValue("interval", "WAIT_FOR_POSTGRES_INTERVAL", v.interval),
		},
		Logging: LoggingConfig{
			Level:  strings.ToLower(r.optional("log_level", "LOG_LEVEL", v.logLevel)),
			Format: strings.ToLower(r.optional("log_format", "LOG_FORMAT", v.logFormat)),
		},
		AuditLogFile: r.optional("audit_log", "AUDIT_LOG_FILE", v.auditLog),
	}

	if portRaw != "" {
		port, err := strconv.Atoi(strings.TrimSpace(portRaw))
		if err != nil {
			r.fail("db_port must be an integer, got %q", portRaw)
		} else {
			cfg.Database.Port = port
		}
	}

	if err := cfg.Validate(r.problems...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges. extra carries problems found while
// resolving flags so everything is reported at once.
func (c Config) Validate(extra ...string) error {
	problems := append([]string(nil), extra...)

	if c.Database.Host == "" {
		problems = append(problems, "db_host must not be empty")
	}
	if c.Database.Port < 1 || c.Database.Port > 65535 {
		problems = append(problems, "db_port must be between 1 and 65535")
	}
	switch c.Database.Driver {
	case "pgx", "postgres":
	default:
		problems = append(problems, "driver must be one of: pgx, postgres")
	}
	switch c.Database.SSLMode {
	case "disable", "require", "verify-ca", "verify-full":
	default:
		problems = append(problems, "db_sslmode must be one of: disable, require, verify-ca, verify-full")
	}
	if c.Database.Name == "" {
		problems = append(problems, "db_name must not be empty")
	}
	if c.Wait.Timeout <= 0 {
		problems = append(problems, "timeout must be > 0")
	}
	if c.Wait.ConnectTimeout <= 0 {
		problems = append(problems, "connect_timeout must be > 0")
	}
	if c.Wait.Interval <= 0 {
		problems = append(problems, "interval must be > 0")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, "log_level must be one of: debug, info, warn, error")
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		problems = append(problems, "log_format must be one of: text, json")
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(dedupe(problems), "\n  - "))
}

type resolver struct {
	fs       *pflag.FlagSet
	problems []string
}

func (r *resolver) fail(format string, args ...any) {
	r.problems = append(r.problems, fmt.Sprintf(format, args...))
}

// lookup returns the flag value when it was set explicitly, otherwise the
// environment value when present.
func (r *resolver) lookup(flag, env, flagVal string) (string, bool) {
	if r.fs.Changed(flag) {
		return flagVal, true
	}
	if val, ok := os.LookupEnv(env); ok {
		return val, true
	}
	return "", false
}

func (r *resolver) required(flag, env, flagVal string) string {
	val, ok := r.lookup(flag, env, flagVal)
	if !ok {
		r.fail("--%s (or %s) is required", flag, env)
	}
	return val
}

func (r *resolver) optional(flag, env, flagVal string) string {
	if val, ok := r.lookup(flag, env, flagVal); ok && val != "" {
		return val
	}
	return flagVal
}

func (r *resolver) intValue(flag, env string, flagVal int) int {
	if r.fs.Changed(flag) {
		return flagVal
	}
	raw, ok := os.LookupEnv(env)
	if !ok || raw == "" {
		return flagVal
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		r.fail("invalid %s: %q", env, raw)
		return flagVal
	}
	return n
}

func (r *resolver) durationValue(flag, env string, flagVal time.Duration) time.Duration {
	if r.fs.Changed(flag) {
		return flagVal
	}
	raw, ok := os.LookupEnv(env)
	if !ok || raw == "" {
		return flagVal
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		r.fail("invalid %s: %q", env, raw)
		return flagVal
	}
	return d
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
