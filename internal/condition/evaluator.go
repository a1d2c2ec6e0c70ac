package condition

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/tailgate-core/internal/poll"
	"github.com/nerrad567/tailgate-core/internal/vehicle"
)

// DefaultWaitTimeout bounds WaitForCondition when neither the caller nor the
// condition sets a timeout.
const DefaultWaitTimeout = 30 * time.Second

// Logger defines the logging interface used by the Evaluator.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Evaluator evaluates conditions against snapshots from a Provider.
// It holds no mutable state and is safe for concurrent use.
type Evaluator struct {
	provider       vehicle.Provider
	interval       time.Duration
	defaultTimeout time.Duration
	logger         Logger
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithInterval sets the WaitForCondition polling interval.
func WithInterval(d time.Duration) Option {
	return func(e *Evaluator) { e.interval = d }
}

// WithDefaultTimeout sets the WaitForCondition fallback timeout.
func WithDefaultTimeout(d time.Duration) Option {
	return func(e *Evaluator) { e.defaultTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(e *Evaluator) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEvaluator creates an Evaluator reading from provider.
func NewEvaluator(provider vehicle.Provider, opts ...Option) *Evaluator {
	e := &Evaluator{
		provider:       provider,
		interval:       poll.DefaultInterval,
		defaultTimeout: DefaultWaitTimeout,
		logger:         noopLogger{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate reads one snapshot and tests c against it.
//
// A nil error means the condition was evaluated; Result.Success carries the
// outcome. Unknown types, bad operators and incomparable values return an
// error together with a Result whose Message describes the failure.
func (e *Evaluator) Evaluate(c Condition) (Result, error) {
	res := Result{Type: c.Type, Operator: c.Operator, Expected: c.Value}

	if !c.Type.Valid() {
		err := fmt.Errorf("%w: %q", ErrUnknownConditionType, c.Type)
		res.Message = err.Error()
		return res, err
	}
	if !c.Operator.Valid() {
		err := fmt.Errorf("%w: %q", ErrInvalidOperator, c.Operator)
		res.Message = err.Error()
		return res, err
	}

	actual, _ := c.Type.extract(e.provider.Snapshot())
	res.Actual = actual

	ok, err := compare(c.Operator, actual, c.Value)
	if err != nil {
		res.Message = err.Error()
		return res, err
	}
	res.Success = ok
	if !ok {
		res.Message = fmt.Sprintf("%s: %v %s %v is false", c.Type, actual, c.Operator, c.Value)
	}
	return res, nil
}

// EvaluateComposite combines conditions with short-circuiting logic: AND
// stops at the first failure, OR at the first success. Conditions after the
// stopping point are never evaluated and no snapshot is read for them.
// An evaluation error stops the composite and is returned.
//
// An empty AND succeeds; an empty OR fails.
func (e *Evaluator) EvaluateComposite(conds []Condition, logic Logic) (CompositeResult, error) {
	if logic == "" {
		logic = LogicAnd
	}
	if logic != LogicAnd && logic != LogicOr {
		return CompositeResult{Logic: logic}, fmt.Errorf("%w: logic %q", ErrInvalidOperator, logic)
	}

	out := CompositeResult{Logic: logic, Success: logic == LogicAnd}
	for _, c := range conds {
		res, err := e.Evaluate(c)
		out.Results = append(out.Results, res)
		if err != nil {
			out.Success = false
			return out, err
		}
		if logic == LogicAnd && !res.Success {
			out.Success = false
			return out, nil
		}
		if logic == LogicOr && res.Success {
			out.Success = true
			return out, nil
		}
	}
	return out, nil
}

// WaitForCondition evaluates c immediately and then on every poll interval
// until it holds. timeout <= 0 falls back to c.TimeoutMS and then to the
// evaluator's default. On deadline it returns a *TimeoutError; on
// cancellation an error wrapping poll.ErrCancelled. Evaluation errors stop
// the wait at once.
func (e *Evaluator) WaitForCondition(ctx context.Context, c Condition, timeout time.Duration) (Result, error) {
	if timeout <= 0 {
		timeout = time.Duration(c.TimeoutMS) * time.Millisecond
	}
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}

	var last Result
	err := poll.Until(ctx, poll.Options{Interval: e.interval, Timeout: timeout}, func() (bool, error) {
		res, err := e.Evaluate(c)
		last = res
		if err != nil {
			return false, err
		}
		return res.Success, nil
	})

	switch {
	case err == nil:
		return last, nil
	case errors.Is(err, poll.ErrTimeout):
		e.logger.Warn("condition wait timed out",
			"condition", c.String(),
			"timeout_ms", timeout.Milliseconds(),
			"actual", last.Actual,
		)
		return last, &TimeoutError{Condition: c, Timeout: timeout, Last: last}
	default:
		return last, err
	}
}
