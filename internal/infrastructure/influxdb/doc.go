// Package influxdb exports EquipWatch security events to InfluxDB.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched non-blocking writes and health monitoring.
//
// # Data
//
// Every audit entry becomes one point:
//
//	auth_events,action=login_failure,outcome=failure,source=core count=1i <timestamp>
//
// so dashboards can chart failed logins or permission denials over time.
// Usernames are kept out of tags to bound series cardinality.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // time-series export is off
//	}
//	defer client.Close()
//
//	client.WriteAuthEvent("login_success", "success", "core", time.Now())
package influxdb
