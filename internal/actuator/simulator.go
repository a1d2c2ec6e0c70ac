package actuator

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/nerrad567/tailgate-core/internal/eventbus"
)

// Simulator defaults.
const (
	DefaultFullSpeed = 30.0 // degrees per second at 100% speed
	DefaultTick      = 50 * time.Millisecond
)

// Logger defines the logging interface used by the Simulator.
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

// SimulatorConfig configures a Simulator.
type SimulatorConfig struct {
	// FullSpeed is the angular speed in degrees/second at 100%.
	FullSpeed float64

	// Tick is the integration step.
	Tick time.Duration

	// InitialAngle is the starting position.
	InitialAngle float64
}

// Simulator is a Driver that integrates angle over time on a ticker.
//
// Each motion runs in its own goroutine; starting a new motion or an
// emergency stop cancels the previous one. IsAnimating becomes true
// synchronously inside StartOpen/StartClose/MoveToAngle, so a caller polling
// Status right after a start never observes a stale "not animating".
type Simulator struct {
	mu        sync.Mutex
	cfg       SimulatorConfig
	angle     float64
	target    float64
	speed     float64
	animating bool
	fault     error
	stop      chan struct{}
	wg        sync.WaitGroup

	bus    *eventbus.Bus[Event]
	logger Logger
}

// NewSimulator creates a Simulator at cfg.InitialAngle.
func NewSimulator(cfg SimulatorConfig) *Simulator {
	if cfg.FullSpeed <= 0 {
		cfg.FullSpeed = DefaultFullSpeed
	}
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	cfg.InitialAngle = clampAngle(cfg.InitialAngle)

	return &Simulator{
		cfg:    cfg,
		angle:  cfg.InitialAngle,
		target: cfg.InitialAngle,
		bus:    eventbus.New[Event](),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger.
func (s *Simulator) SetLogger(l Logger) {
	if l != nil {
		s.logger = l
	}
}

// Subscribe registers an event handler.
func (s *Simulator) Subscribe(h func(Event)) func() {
	return s.bus.Subscribe(h)
}

// StartOpen moves toward MaxAngle.
func (s *Simulator) StartOpen(speed float64) error {
	return s.MoveToAngle(MaxAngle, speed)
}

// StartClose moves toward zero.
func (s *Simulator) StartClose(speed float64) error {
	return s.MoveToAngle(0, speed)
}

// MoveToAngle starts a motion toward angle at speed percent.
func (s *Simulator) MoveToAngle(angle, speed float64) error {
	if angle < 0 || angle > MaxAngle || math.IsNaN(angle) {
		return fmt.Errorf("%w: %.1f", ErrInvalidAngle, angle)
	}

	s.mu.Lock()
	if s.fault != nil {
		err := s.fault
		s.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrDriverFault, err)
	}
	s.cancelLocked()

	s.target = angle
	s.speed = clampSpeed(speed)
	if s.angle == angle {
		s.animating = false
		ev := s.eventLocked(EventPositionReached)
		s.mu.Unlock()
		s.bus.Publish(ev)
		return nil
	}

	s.animating = true
	stop := make(chan struct{})
	s.stop = stop
	s.wg.Add(1)
	s.mu.Unlock()

	s.logger.Debug("actuator motion started", "target", angle, "speed", s.speed)
	go s.run(stop)
	return nil
}

// EmergencyStop halts any motion in place.
func (s *Simulator) EmergencyStop() error {
	s.mu.Lock()
	s.cancelLocked()
	s.animating = false
	s.target = s.angle
	ev := s.eventLocked(EventEmergencyStop)
	s.mu.Unlock()

	s.logger.Warn("actuator emergency stop", "angle", ev.Angle)
	s.bus.Publish(ev)
	return nil
}

// Status returns the current physical status.
func (s *Simulator) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

// InjectFault makes every subsequent motion request fail with err until
// ClearFault is called. A nil err clears the fault.
func (s *Simulator) InjectFault(err error) {
	s.mu.Lock()
	s.fault = err
	s.mu.Unlock()
}

// ClearFault clears an injected fault.
func (s *Simulator) ClearFault() {
	s.InjectFault(nil)
}

// Close stops any motion and waits for the motion goroutine to exit.
func (s *Simulator) Close() {
	s.mu.Lock()
	s.cancelLocked()
	s.animating = false
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Simulator) run(stop chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()
	last := time.Now()

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			dt := now.Sub(last).Seconds()
			last = now

			s.mu.Lock()
			if s.stop != stop {
				s.mu.Unlock()
				return
			}
			step := s.cfg.FullSpeed * s.speed / 100 * dt
			reached := s.advanceLocked(step)
			changed := s.eventLocked(EventAngleChanged)
			var done Event
			if reached {
				s.animating = false
				s.stop = nil
				done = s.eventLocked(EventPositionReached)
			}
			s.mu.Unlock()

			s.bus.Publish(changed)
			if reached {
				s.logger.Debug("actuator position reached", "angle", done.Angle)
				s.bus.Publish(done)
				return
			}
		}
	}
}

// advanceLocked moves angle toward target by step and reports arrival.
func (s *Simulator) advanceLocked(step float64) bool {
	diff := s.target - s.angle
	if math.Abs(diff) <= step {
		s.angle = s.target
		return true
	}
	if diff > 0 {
		s.angle += step
	} else {
		s.angle -= step
	}
	return false
}

func (s *Simulator) cancelLocked() {
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
}

func (s *Simulator) statusLocked() Status {
	return Status{
		IsAnimating: s.animating,
		Angle:       s.angle,
		Target:      s.target,
		Speed:       s.speed,
		IsOpen:      s.angle >= MaxAngle,
		IsClosed:    s.angle <= 0,
	}
}

func (s *Simulator) eventLocked(typ EventType) Event {
	st := s.statusLocked()
	return Event{
		Type:      typ,
		Angle:     st.Angle,
		Target:    st.Target,
		IsOpen:    st.IsOpen,
		IsClosed:  st.IsClosed,
		Timestamp: time.Now(),
	}
}

func clampAngle(a float64) float64 {
	return math.Max(0, math.Min(MaxAngle, a))
}

func clampSpeed(speed float64) float64 {
	if speed <= 0 || math.IsNaN(speed) {
		return 100
	}
	return math.Min(100, speed)
}
