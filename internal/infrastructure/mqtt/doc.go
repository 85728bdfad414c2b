// Package mqtt mirrors keygate's real-time events onto an MQTT broker.
//
// The mirror is optional (mqtt.enabled) and publish-only. Each event the
// WebSocket hub broadcasts (presence-update, kill-switch-update, command)
// is also published to keygate/core/event/<type>, so external tooling can
// follow moderation activity without holding a session credential.
//
// # Security Considerations
//
//   - Payloads never carry credentials, content keys or plaintext.
//   - Use TLS (mqtt.broker.tls) when the broker is not on localhost.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, logger)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.PublishEvent("kill-switch-update", map[string]bool{"enabled": true})
package mqtt
