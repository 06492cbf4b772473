// Package influxdb writes authentication telemetry to InfluxDB v2.
//
// Each audited auth event becomes one point in the auth_events measurement,
// tagged by action, result and user type. Writes are batched and
// non-blocking; telemetry loss never affects a request.
package influxdb
