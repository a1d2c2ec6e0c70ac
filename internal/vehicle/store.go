package vehicle

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/nerrad567/tailgate-core/internal/actuator"
	"github.com/nerrad567/tailgate-core/internal/eventbus"
	"github.com/nerrad567/tailgate-core/internal/statemachine"
)

// ErrUnknownSensor is returned by UpdateSensor for unrecognised sensor names.
var ErrUnknownSensor = errors.New("vehicle: unknown sensor")

// ErrInvalidSensorValue is returned when a sensor value cannot be parsed.
var ErrInvalidSensorValue = errors.New("vehicle: invalid sensor value")

// Sensor names accepted by UpdateSensor.
const (
	SensorVehicleSpeed       = "vehicle_speed"
	SensorObstacleDetected   = "obstacle_detected"
	SensorDistanceToObstacle = "distance_to_obstacle"
	SensorTemperature        = "temperature"
	SensorBatteryVoltage     = "battery_voltage"
	SensorSystemReady        = "system_ready"
)

// Sensors holds the raw vehicle readings.
type Sensors struct {
	VehicleSpeed       float64 `json:"vehicle_speed" yaml:"vehicle_speed"`
	ObstacleDetected   bool    `json:"obstacle_detected" yaml:"obstacle_detected"`
	DistanceToObstacle float64 `json:"distance_to_obstacle" yaml:"distance_to_obstacle"`
	Temperature        float64 `json:"temperature" yaml:"temperature"`
	BatteryVoltage     float64 `json:"battery_voltage" yaml:"battery_voltage"`
}

// DefaultSensors is a parked vehicle with nothing behind it.
func DefaultSensors() Sensors {
	return Sensors{
		VehicleSpeed:       0,
		ObstacleDetected:   false,
		DistanceToObstacle: 200,
		Temperature:        20,
		BatteryVoltage:     12.6,
	}
}

// StateReader reports the actuator state machine's current state.
type StateReader interface {
	Current() statemachine.State
}

// Store is the live sensor and fault table, and the default snapshot Provider.
//
// Thread Safety: all methods are safe for concurrent use. Fault events are
// published after the lock is released.
type Store struct {
	mu          sync.RWMutex
	sensors     Sensors
	systemReady bool
	faults      map[FaultKind]Fault
	driver      actuator.Driver
	state       StateReader

	bus *eventbus.Bus[FaultEvent]
}

// NewStore creates a Store with the given initial readings. The system
// starts ready with no faults.
func NewStore(initial Sensors) *Store {
	return &Store{
		sensors:     initial,
		systemReady: true,
		faults:      make(map[FaultKind]Fault),
		bus:         eventbus.New[FaultEvent](),
	}
}

// Bind attaches the actuator driver and state machine the snapshot reads
// angle, animation and state from. Either may be nil.
func (s *Store) Bind(driver actuator.Driver, state StateReader) {
	s.mu.Lock()
	s.driver = driver
	s.state = state
	s.mu.Unlock()
}

// Subscribe registers a fault event handler.
func (s *Store) Subscribe(h func(FaultEvent)) func() {
	return s.bus.Subscribe(h)
}

// Snapshot returns the current point-in-time view.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	snap := Snapshot{
		VehicleSpeed:       s.sensors.VehicleSpeed,
		ObstacleDetected:   s.sensors.ObstacleDetected,
		DistanceToObstacle: s.sensors.DistanceToObstacle,
		Temperature:        s.sensors.Temperature,
		BatteryVoltage:     s.sensors.BatteryVoltage,
		SystemReady:        s.systemReady,
		ActiveFaults:       s.activeFaultsLocked(),
		Timestamp:          time.Now(),
	}
	driver, state := s.driver, s.state
	s.mu.RUnlock()

	if driver != nil {
		st := driver.Status()
		snap.TailgateAngle = st.Angle
		snap.IsAnimating = st.IsAnimating
		snap.ActuatorReady = !snap.HasFault(FaultMotor) && !snap.HasFault(FaultHardware)
	}
	if state != nil {
		snap.TailgateState = state.Current()
	}
	return snap
}

// Sensors returns the raw readings.
func (s *Store) Sensors() Sensors {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sensors
}

// SetVehicleSpeed records the vehicle speed in km/h.
func (s *Store) SetVehicleSpeed(kmh float64) {
	s.mu.Lock()
	s.sensors.VehicleSpeed = kmh
	s.mu.Unlock()
}

// SetObstacle records the rear obstacle sensor. A change of the detected
// flag raises or clears FaultObstacle.
func (s *Store) SetObstacle(detected bool, distance float64) {
	s.mu.Lock()
	changed := s.sensors.ObstacleDetected != detected
	s.sensors.ObstacleDetected = detected
	s.sensors.DistanceToObstacle = distance
	s.mu.Unlock()

	if !changed {
		return
	}
	if detected {
		s.RaiseFault(FaultObstacle, fmt.Sprintf("obstacle at %.0f cm", distance))
	} else {
		s.ClearFault(FaultObstacle)
	}
}

// SetTemperature records the ambient temperature in °C.
func (s *Store) SetTemperature(c float64) {
	s.mu.Lock()
	s.sensors.Temperature = c
	s.mu.Unlock()
}

// SetBatteryVoltage records the battery voltage.
func (s *Store) SetBatteryVoltage(v float64) {
	s.mu.Lock()
	s.sensors.BatteryVoltage = v
	s.mu.Unlock()
}

// SetSystemReady sets the system-ready flag.
func (s *Store) SetSystemReady(ready bool) {
	s.mu.Lock()
	s.systemReady = ready
	s.mu.Unlock()
}

// UpdateSensor sets a reading by name from its textual value, as received
// over MQTT or the HTTP API.
func (s *Store) UpdateSensor(name, value string) error {
	switch name {
	case SensorObstacleDetected:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ErrInvalidSensorValue, name, value)
		}
		s.SetObstacle(b, s.Sensors().DistanceToObstacle)
		return nil
	case SensorSystemReady:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ErrInvalidSensorValue, name, value)
		}
		s.SetSystemReady(b)
		return nil
	}

	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		if isKnownNumeric(name) {
			return fmt.Errorf("%w: %s=%q", ErrInvalidSensorValue, name, value)
		}
		return fmt.Errorf("%w: %s", ErrUnknownSensor, name)
	}

	switch name {
	case SensorVehicleSpeed:
		s.SetVehicleSpeed(f)
	case SensorDistanceToObstacle:
		s.mu.Lock()
		s.sensors.DistanceToObstacle = f
		s.mu.Unlock()
	case SensorTemperature:
		s.SetTemperature(f)
	case SensorBatteryVoltage:
		s.SetBatteryVoltage(f)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownSensor, name)
	}
	return nil
}

func isKnownNumeric(name string) bool {
	switch name {
	case SensorVehicleSpeed, SensorDistanceToObstacle, SensorTemperature, SensorBatteryVoltage:
		return true
	}
	return false
}

// RaiseFault activates a fault and publishes its event. Raising an already
// active fault updates the message without a second event.
func (s *Store) RaiseFault(kind FaultKind, message string) {
	now := time.Now()
	s.mu.Lock()
	_, exists := s.faults[kind]
	s.faults[kind] = Fault{Kind: kind, Message: message, RaisedAt: now}
	if kind == FaultObstacle {
		s.sensors.ObstacleDetected = true
	}
	s.mu.Unlock()

	if exists {
		return
	}
	s.bus.Publish(FaultEvent{
		Type:      kind.raisedEvent(),
		Fault:     kind,
		Message:   message,
		Timestamp: now,
	})
}

// ClearFault deactivates a fault. It reports whether the fault was active.
func (s *Store) ClearFault(kind FaultKind) bool {
	s.mu.Lock()
	_, exists := s.faults[kind]
	delete(s.faults, kind)
	if kind == FaultObstacle {
		s.sensors.ObstacleDetected = false
	}
	s.mu.Unlock()

	if !exists {
		return false
	}
	s.bus.Publish(FaultEvent{
		Type:      kind.clearedEvent(),
		Fault:     kind,
		Timestamp: time.Now(),
	})
	return true
}

// ClearAllFaults deactivates every fault and returns how many were active.
func (s *Store) ClearAllFaults() int {
	s.mu.RLock()
	kinds := s.activeFaultsLocked()
	s.mu.RUnlock()

	n := 0
	for _, k := range kinds {
		if s.ClearFault(k) {
			n++
		}
	}
	return n
}

// Faults returns the active faults ordered by kind.
func (s *Store) Faults() []Fault {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Fault, 0, len(s.faults))
	for _, f := range s.faults {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

func (s *Store) activeFaultsLocked() []FaultKind {
	kinds := make([]FaultKind, 0, len(s.faults))
	for k := range s.faults {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
