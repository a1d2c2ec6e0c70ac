// Package mqtt connects Tailgate Core to an MQTT broker.
//
// The broker is an optional side channel: vehicles (or test rigs) publish
// sensor readings and motion commands, and the service publishes its
// state, snapshot and lifecycle events back. See Topics for the tree.
//
// This package manages:
//   - Connection with auto-reconnect and subscription restore
//   - Retained online/offline status with a Last Will
//   - Validated publishing (topic, QoS, 1MB payload cap)
//   - Wildcard subscriptions with panic-safe handlers
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, cfg.Vehicle.ID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(client.Topics().Command(), 1, controller.HandleCommand)
//	_ = client.PublishJSON(client.Topics().State(), state, true)
//
// Unit tests cover everything that does not need a broker. Tests tagged
// "integration" expect Mosquitto on 127.0.0.1:1883:
//
//	go test -tags=integration ./internal/infrastructure/mqtt/...
package mqtt
