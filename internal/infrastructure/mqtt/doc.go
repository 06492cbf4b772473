// Package mqtt publishes EcoZone auth events to an MQTT broker.
//
// The auth service is a producer only. It announces its own online/offline
// status (with a Last Will for crashes) and emits security events such as
// account lockouts so that operator dashboards and alerting can react
// without polling the audit log.
//
// # Security Considerations
//
//   - TLS should be enabled in production (cfg.Broker.TLS=true)
//   - Event payloads never contain passwords, tokens or token hashes
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topic := client.Topics().SecurityEvent("account_locked")
//	err = client.PublishJSON(topic, event)
package mqtt
