package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// AuthEventMeasurement holds one point per authentication event.
const AuthEventMeasurement = "auth_events"

// WriteAuthEvent records an authentication event for trend dashboards
// (failed-login spikes, lockout rate per user type).
//
// Tags stay low-cardinality: no user IDs, emails or client IPs.
func (c *Client) WriteAuthEvent(action, result, userType string, at time.Time) {
	tags := map[string]string{
		"action": action,
		"result": result,
	}
	if userType != "" {
		tags["user_type"] = userType
	}
	c.WritePoint(AuthEventMeasurement, tags, map[string]any{"count": 1}, at)
}

// WritePoint writes a custom point. The write is non-blocking; dropped
// silently when the client is closed.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any, at time.Time) {
	if !c.IsConnected() {
		return
	}
	if at.IsZero() {
		at = time.Now()
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, at))
}
