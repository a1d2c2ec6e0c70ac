// Package influxdb writes Tailgate Core telemetry to InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library. Writes are batched
// and non-blocking; asynchronous failures reach the SetOnError callback.
// Every write is a no-op while the client is disconnected, so callers need
// no guards when telemetry is optional.
//
// Measurements:
//   - tailgate_transition: one point per accepted FSM transition
//   - tailgate_execution: one point per finished config execution
//   - tailgate_snapshot: periodic sensor samples
//   - tailgate_actuator: actuator angle samples
//
// Usage:
//
//	client, err := influxdb.Connect(config.InfluxDBConfig{
//	    Enabled: true,
//	    URL:     "http://localhost:8086",
//	    Token:   "my-token",
//	    Org:     "tailgate",
//	    Bucket:  "telemetry",
//	})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteTransition(influxdb.Transition{VehicleID: "van-1", From: "closed", To: "opening"})
package influxdb
