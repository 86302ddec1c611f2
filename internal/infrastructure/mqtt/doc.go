// Package mqtt provides MQTT publishing for EquipWatch Core.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// The core publishes security audit events for downstream consumers
// (the maintenance dashboard, alerting, SIEM forwarders):
//
//	EquipWatch Core → MQTT Broker → equipwatch/audit/{action} subscribers
//
// Publishing happens on the audit log's background dispatcher, so a slow
// or unreachable broker never delays a login.
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Audit payloads carry usernames and outcomes, never passwords or tokens
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Publish(mqtt.Topics{}.Audit("login_failure"), payload, 1, false)
package mqtt
