// Package mqtt connects the EnOcean bridge to the Gray Logic message bus.
//
// The bridge never talks to Core directly. Decoded telegrams, acks,
// responses and health go out over the broker, and commands and requests
// come back the same way:
//
//	Core <-> Mosquitto <-> enocean-bridge <-> ESP3 gateway
//
// Topics follow graylogic/{category}/{protocol}/{address}; build them with
// Topics rather than by hand.
//
// The client reconnects on its own with backoff between the configured
// initial and maximum delays, and re-subscribes after each reconnect.
// Handlers run on paho goroutines with panic recovery.
//
//	client, err := mqtt.Connect(cfg.MQTT, mqtt.WithWill(healthTopic, offline))
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.BridgeCommands("enocean"), 1, handleCommand)
//
// Enable TLS (broker.tls) anywhere the broker is not on localhost.
package mqtt
