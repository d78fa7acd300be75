// Package readiness polls a PostgreSQL server until it accepts a connection
// or a deadline passes.
package readiness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"

	"myconnectionsvr/waitforpostgres/internal/probe"
)

var (
	ErrTimeout    = errors.New("postgres not ready within timeout")
	ErrNoAttempts = errors.New("no connection attempts were made")
)

// AttemptError is the single failure kind of the loop: one connection
// attempt that did not succeed.
type AttemptError struct {
	Attempt int
	Err     error
}

func (e *AttemptError) Error() string {
	return fmt.Sprintf("attempt %d: %v", e.Attempt, e.Err)
}

func (e *AttemptError) Unwrap() error {
	return e.Err
}

type Options struct {
	Timeout        time.Duration
	AttemptTimeout time.Duration
	Interval       time.Duration
	Stdout         io.Writer
	Stderr         io.Writer
	Logger         zerolog.Logger

	// Now and Sleep default to the wall clock.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

type Poller struct {
	connector probe.Connector
	target    probe.Target
	opts      Options
}

type Result struct {
	Ready    bool
	Attempts int
	Elapsed  time.Duration
	LastErr  error
}

func (r Result) ExitCode() int {
	if r.Ready {
		return 0
	}
	return 1
}

// Err is nil when ready, otherwise ErrTimeout joined with the last error.
func (r Result) Err() error {
	if r.Ready {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTimeout, r.LastErr)
}

func New(connector probe.Connector, target probe.Target, opts Options) *Poller {
	if opts.Stdout == nil {
		opts.Stdout = io.Discard
	}
	if opts.Stderr == nil {
		opts.Stderr = io.Discard
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	return &Poller{connector: connector, target: target, opts: opts}
}

// Wait runs the polling loop. Attempts are strictly sequential; the
// connection opened by an attempt is closed before the next one starts.
func (p *Poller) Wait(ctx context.Context) Result {
	log := p.opts.Logger.With().Str("target", p.target.String()).Logger()

	fmt.Fprintf(p.opts.Stdout, "Waiting for PostgreSQL at %s (user: %s)...\n", p.target.Address(), p.target.User)
	log.Info().Dur("timeout", p.opts.Timeout).Msg("waiting for postgres")

	start := p.opts.Now()
	deadline := start.Add(p.opts.Timeout)
	res := Result{LastErr: ErrNoAttempts}

	for p.opts.Now().Sub(start) < p.opts.Timeout {
		res.Attempts++

		err := p.attempt(ctx, deadline)
		if err == nil {
			res.Ready = true
			res.LastErr = nil
			res.Elapsed = p.opts.Now().Sub(start)
			if res.Attempts > 1 {
				fmt.Fprintln(p.opts.Stdout)
			}
			color.New(color.FgGreen).Fprintln(p.opts.Stdout, "PostgreSQL is available!")
			log.Info().Int("attempts", res.Attempts).Dur("elapsed", res.Elapsed).Msg("postgres ready")
			return res
		}

		res.LastErr = &AttemptError{Attempt: res.Attempts, Err: redactedError{msg: p.target.Redact(err.Error()), err: err}}
		fmt.Fprint(p.opts.Stdout, ".")
		log.Debug().
			Int("attempt", res.Attempts).
			Dur("elapsed", p.opts.Now().Sub(start)).
			Str("error", res.LastErr.Error()).
			Msg("connection attempt failed")

		if err := p.opts.Sleep(ctx, p.opts.Interval); err != nil {
			// Caller cancelled; report what we have.
			break
		}
	}

	res.Elapsed = p.opts.Now().Sub(start)
	fmt.Fprintln(p.opts.Stderr)
	color.New(color.FgRed).Fprintf(p.opts.Stderr, "Error: Could not connect to PostgreSQL after %s seconds\n", seconds(p.opts.Timeout))
	fmt.Fprintf(p.opts.Stderr, "Last error: %s\n", lastErrorText(res.LastErr))
	log.Debug().Int("attempts", res.Attempts).Dur("elapsed", res.Elapsed).Msg("gave up waiting for postgres")
	return res
}

func (p *Poller) attempt(ctx context.Context, deadline time.Time) error {
	attemptDeadline := p.opts.Now().Add(p.opts.AttemptTimeout)
	if p.opts.AttemptTimeout <= 0 || attemptDeadline.After(deadline) {
		attemptDeadline = deadline
	}

	target := p.target
	target.ConnectTimeout = attemptDeadline.Sub(p.opts.Now())

	attemptCtx, cancel := context.WithDeadline(ctx, attemptDeadline)
	defer cancel()
	return p.connector.Connect(attemptCtx, target)
}

// redactedError keeps the driver error reachable through errors.Is/As while
// its text never carries the password.
type redactedError struct {
	msg string
	err error
}

func (e redactedError) Error() string { return e.msg }
func (e redactedError) Unwrap() error { return e.err }

// lastErrorText strips the attempt prefix: users want the driver message.
func lastErrorText(err error) string {
	var attemptErr *AttemptError
	if errors.As(err, &attemptErr) {
		return attemptErr.Err.Error()
	}
	return err.Error()
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
