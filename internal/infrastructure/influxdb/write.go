package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementAuthEvents holds one point per security audit entry.
const MeasurementAuthEvents = "auth_events"

// authEventPoint builds the auth_events point. Tags are the low-cardinality
// dimensions; the actor is not a tag.
func authEventPoint(action, outcome, source string, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementAuthEvents,
		map[string]string{
			"action":  action,
			"outcome": outcome,
			"source":  source,
		},
		map[string]interface{}{
			"count": int64(1),
		},
		ts,
	)
}

// WriteAuthEvent records one audit entry as a point in auth_events.
// The write is non-blocking; points are batched and sent asynchronously.
//
// Example:
//
//	client.WriteAuthEvent("login_failure", "failure", "core", entry.Timestamp)
func (c *Client) WriteAuthEvent(action, outcome, source string, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(authEventPoint(action, outcome, source, ts))
}
