// Package poll implements cancellable fixed-interval waits.
//
// Every wait in the control loop (condition waits, monitor checks, motion
// completion) is expressed as "check the cancellation token, then either
// finish or reschedule". A cancelled wait always fails with ErrCancelled;
// it never reports success.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultInterval is the polling period used when Options.Interval is zero.
const DefaultInterval = 100 * time.Millisecond

var (
	// ErrTimeout is returned when the condition did not hold before the deadline.
	ErrTimeout = errors.New("poll: timed out")

	// ErrCancelled is returned when the context ends or the alive check fails.
	ErrCancelled = errors.New("poll: cancelled")
)

// Options configures a wait.
type Options struct {
	// Interval between checks. Zero means DefaultInterval.
	Interval time.Duration

	// Timeout bounds the whole wait. Zero means no deadline.
	Timeout time.Duration

	// Alive is consulted before every check; returning false cancels the wait.
	Alive func() bool
}

func (o Options) interval() time.Duration {
	if o.Interval <= 0 {
		return DefaultInterval
	}
	return o.Interval
}

func (o Options) alive() bool {
	return o.Alive == nil || o.Alive()
}

// Until calls check immediately and then once per interval until it reports
// done, returns an error, the timeout elapses, or the wait is cancelled.
func Until(ctx context.Context, opts Options, check func() (bool, error)) error {
	var deadline <-chan time.Time
	if opts.Timeout > 0 {
		timer := time.NewTimer(opts.Timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(opts.interval())
	defer ticker.Stop()

	for {
		if err := cancelled(ctx, opts); err != nil {
			return err
		}

		done, err := check()
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		case <-deadline:
			return fmt.Errorf("%w after %v", ErrTimeout, opts.Timeout)
		case <-ticker.C:
		}
	}
}

// Sleep waits for d while still honouring cancellation on every interval.
// opts.Timeout is ignored.
func Sleep(ctx context.Context, d time.Duration, opts Options) error {
	if err := cancelled(ctx, opts); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	ticker := time.NewTicker(opts.interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		case <-timer.C:
			return cancelled(ctx, opts)
		case <-ticker.C:
			if !opts.alive() {
				return ErrCancelled
			}
		}
	}
}

func cancelled(ctx context.Context, opts Options) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	if !opts.alive() {
		return ErrCancelled
	}
	return nil
}
