package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/nerrad567/tailgate-core/internal/statemachine"
)

// Recovery defaults.
const (
	DefaultRecoveryAttempts = 3
	DefaultRecoveryBackoff  = 1000 * time.Millisecond
)

// Recoverer restores the system to a state a sequence can run from.
type Recoverer interface {
	Recover(ctx context.Context) error
}

// RecovererFunc adapts a function to Recoverer.
type RecovererFunc func(ctx context.Context) error

// Recover calls f.
func (f RecovererFunc) Recover(ctx context.Context) error { return f(ctx) }

// FaultResetter is the fault side of SystemRecovery. *vehicle.Store
// satisfies it.
type FaultResetter interface {
	ClearAllFaults() int
	SetSystemReady(ready bool)
}

// StateResetter is the state machine side of SystemRecovery.
// *statemachine.Machine satisfies it.
type StateResetter interface {
	Current() statemachine.State
	Transition(to statemachine.State, reason string) bool
	ResetEmergencyStop(reason string) bool
}

// SystemRecovery clears every active fault, marks the system ready and
// brings the state machine back to idle from emergency_stop or paused.
type SystemRecovery struct {
	Faults  FaultResetter
	Machine StateResetter
	Logger  Logger
}

// Recover implements Recoverer.
func (r SystemRecovery) Recover(_ context.Context) error {
	cleared := 0
	if r.Faults != nil {
		cleared = r.Faults.ClearAllFaults()
		r.Faults.SetSystemReady(true)
	}

	var from statemachine.State
	if r.Machine != nil {
		from = r.Machine.Current()
		switch from {
		case statemachine.StateEmergencyStop:
			if !r.Machine.ResetEmergencyStop("sequence recovery") {
				return errors.New("orchestrator: emergency stop reset refused")
			}
		case statemachine.StatePaused:
			r.Machine.Transition(statemachine.StateIdle, "sequence recovery")
		}
	}

	if r.Logger != nil {
		r.Logger.Info("system recovered", "faults_cleared", cleared, "from_state", from)
	}
	return nil
}

// Recovering is an Orchestrator whose sequences are retried after a
// recovery procedure. Stops, rejections and invalid queues are not retried.
type Recovering struct {
	*Orchestrator

	recoverer Recoverer
	attempts  int
	backoff   time.Duration
}

// RecoveryOption configures a Recovering orchestrator.
type RecoveryOption func(*Recovering)

// WithAttempts sets the total number of attempts, including the first.
func WithAttempts(n int) RecoveryOption {
	return func(r *Recovering) {
		if n > 0 {
			r.attempts = n
		}
	}
}

// WithBackoff sets the fixed delay between attempts.
func WithBackoff(d time.Duration) RecoveryOption {
	return func(r *Recovering) {
		if d >= 0 {
			r.backoff = d
		}
	}
}

// NewRecovering wraps o. recoverer may be nil, in which case retries run
// without a recovery step.
func NewRecovering(o *Orchestrator, recoverer Recoverer, opts ...RecoveryOption) *Recovering {
	r := &Recovering{
		Orchestrator: o,
		recoverer:    recoverer,
		attempts:     DefaultRecoveryAttempts,
		backoff:      DefaultRecoveryBackoff,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ExecuteSequence runs the sequence, waiting the backoff and running the
// recovery procedure before each retry. After the last attempt the final
// sequence error is returned unchanged.
func (r *Recovering) ExecuteSequence(ctx context.Context, opts SequenceOptions) error {
	name := opts.name()
	attempt := 0

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		if attempt > 1 {
			r.recover(ctx, name, attempt)
		}

		err := r.Orchestrator.ExecuteSequence(ctx, opts)
		if err != nil && (permanent(err) || ctx.Err() != nil) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(r.backoff)),
		backoff.WithMaxTries(uint(r.attempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, d time.Duration) {
			r.publish(Event{Type: EventRetryScheduled, Sequence: name, Attempt: attempt, Delay: d, Message: err.Error(), Err: err})
			r.logger.Warn("sequence attempt failed, retrying",
				"sequence", name,
				"attempt", attempt,
				"max_attempts", r.attempts,
				"delay", d,
				"error", err,
			)
		}),
	)
	return err
}

func (r *Recovering) recover(ctx context.Context, name string, attempt int) {
	if r.recoverer == nil {
		return
	}
	if err := r.recoverer.Recover(ctx); err != nil {
		r.publish(Event{Type: EventRecoveryFailed, Sequence: name, Attempt: attempt, Message: err.Error(), Err: err})
		r.logger.Error("recovery failed", "sequence", name, "attempt", attempt, "error", err)
		return
	}
	r.publish(Event{Type: EventRecoveryCompleted, Sequence: name, Attempt: attempt})
}
