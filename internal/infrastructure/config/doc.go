// Package config loads tailgate.yaml, applies TAILGATE_* environment
// overrides on top, and validates the result.
//
// Load requires the file to exist; Default gives the built-in values when
// the CLI runs without --config. Keep the MQTT password and InfluxDB token
// out of the file and set TAILGATE_MQTT_PASSWORD and TAILGATE_INFLUXDB_TOKEN
// instead.
package config
