package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every tailgate topic.
const TopicPrefix = "tailgate"

// Topics builds the per-vehicle topic tree:
//
//	tailgate/{vehicle}/command          inbound requests (not retained)
//	tailgate/{vehicle}/sensor/{name}    inbound sensor readings
//	tailgate/{vehicle}/state            current FSM state (retained)
//	tailgate/{vehicle}/snapshot         vehicle snapshot (retained)
//	tailgate/{vehicle}/event/{kind}     lifecycle events
//	tailgate/{vehicle}/status           online/offline, also the LWT topic
//
// Using these helpers keeps the naming consistent between publishers and
// subscribers:
//
//	topics := mqtt.Topics{Vehicle: "van-1"}
//	topics.Sensor("vehicle_speed") // "tailgate/van-1/sensor/vehicle_speed"
type Topics struct {
	Vehicle string
}

func (t Topics) base() string {
	return fmt.Sprintf("%s/%s", TopicPrefix, t.Vehicle)
}

// Command returns the inbound command topic.
func (t Topics) Command() string {
	return t.base() + "/command"
}

// Sensor returns the inbound topic for one sensor.
func (t Topics) Sensor(name string) string {
	return fmt.Sprintf("%s/sensor/%s", t.base(), name)
}

// AllSensors matches every sensor topic of the vehicle.
func (t Topics) AllSensors() string {
	return t.base() + "/sensor/+"
}

// State returns the retained FSM state topic.
func (t Topics) State() string {
	return t.base() + "/state"
}

// Snapshot returns the retained snapshot topic.
func (t Topics) Snapshot() string {
	return t.base() + "/snapshot"
}

// Event returns the topic for one lifecycle event kind.
//
// Example: tailgate/van-1/event/emergency_stop
func (t Topics) Event(kind string) string {
	return fmt.Sprintf("%s/event/%s", t.base(), kind)
}

// AllEvents matches every event topic of the vehicle.
func (t Topics) AllEvents() string {
	return t.base() + "/event/#"
}

// Status returns the online/offline topic.
func (t Topics) Status() string {
	return t.base() + "/status"
}

// AllVehicles matches every tailgate topic of every vehicle.
func (Topics) AllVehicles() string {
	return TopicPrefix + "/#"
}

// SensorName extracts the sensor name from a sensor topic.
// ok is false when topic is not a sensor topic of this vehicle.
func (t Topics) SensorName(topic string) (name string, ok bool) {
	prefix := t.base() + "/sensor/"
	name, found := strings.CutPrefix(topic, prefix)
	if !found || name == "" || strings.Contains(name, "/") {
		return "", false
	}
	return name, true
}
