// Package mqtt wraps the paho client for Smarthome Core's broker
// connection.
//
// MQTT is the bus between Core and household devices: Core publishes
// desired state on command topics, devices report back on status
// topics, and the broker decouples the two. This package adds what the
// raw paho client leaves to the caller: tracked subscriptions that
// survive reconnects, last-will and graceful-shutdown status messages,
// payload size limits, and panic recovery around message handlers.
//
// Typical use:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllDeviceStatuses(), 1,
//	    func(topic string, payload []byte) error {
//	        // reconcile the report
//	        return nil
//	    })
//
// TLS should be enabled for anything beyond local development; payloads
// are not encrypted beyond the transport.
package mqtt
