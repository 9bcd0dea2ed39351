package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/openhearth/smarthome-core/internal/infrastructure/config"
)

const (
	// connectTimeout bounds the initial Connect call.
	connectTimeout = 10 * time.Second

	// publishTimeout bounds waits for publish, subscribe and
	// unsubscribe acknowledgements.
	publishTimeout = 5 * time.Second

	// disconnectQuiesce is how many milliseconds the paho client waits
	// for in-flight work before dropping the connection.
	disconnectQuiesce = 1000

	// keepAlive is the PINGREQ interval that keeps half-dead
	// connections from lingering.
	keepAlive = 60 * time.Second

	// maxQoS is the highest QoS level the protocol defines.
	maxQoS = 2
)

// clientOptions translates our config into paho options: broker URL and
// credentials, clean session, auto-reconnect with capped backoff, and
// the last-will message for crash detection.
func clientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port))
	opts.SetClientID(cfg.Broker.ClientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second)
	opts.SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetKeepAlive(keepAlive)

	// The broker announces our death for us: if the connection drops
	// without a clean disconnect it publishes this retained will.
	opts.SetWill(Topics{}.SystemStatus(),
		statusPayload(cfg.Broker.ClientID, "offline", "unexpected_disconnect"), 1, true)

	return opts
}

// statusPayload builds the JSON body published on the system status
// topic. reason is empty for the online announcement.
func statusPayload(clientID, status, reason string) string {
	msg := map[string]string{
		"status":    status,
		"client_id": clientID,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if reason != "" {
		msg["reason"] = reason
	}
	encoded, _ := json.Marshal(msg) //nolint:errcheck // a map of strings cannot fail
	return string(encoded)
}
