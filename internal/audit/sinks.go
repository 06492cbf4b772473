package audit

import (
	"context"
	"time"

	"github.com/ecozone/authcore/internal/infrastructure/mqtt"
)

// securityActions are announced on MQTT even when they succeed.
var securityActions = map[string]bool{
	ActionAccountLocked:  true,
	ActionAccountUnlock:  true,
	ActionPasswordChange: true,
	ActionUserStatus:     true,
	ActionLogoutAll:      true,
}

// IsSecurityEvent reports whether e should be announced to operators.
func IsSecurityEvent(e *Entry) bool {
	return e.Failed() || securityActions[e.Action]
}

// Publisher is the subset of the MQTT client used by MQTTSink.
type Publisher interface {
	PublishJSON(topic string, v any) error
	Topics() mqtt.Topics
}

// MQTTSink publishes security events to {prefix}/auth/security/{action}.
type MQTTSink struct {
	pub Publisher
}

// NewMQTTSink creates an MQTTSink.
func NewMQTTSink(pub Publisher) *MQTTSink {
	return &MQTTSink{pub: pub}
}

func (s *MQTTSink) Name() string { return "mqtt" }

// securityEvent is the MQTT payload. Details are left out: they carry
// emails, which must not leave the operator-only audit table.
type securityEvent struct {
	ID        string    `json:"id"`
	Action    string    `json:"action"`
	Result    Result    `json:"result"`
	UserID    string    `json:"userId,omitempty"`
	ClientIP  string    `json:"clientIp,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Handle publishes e if it is a security event.
func (s *MQTTSink) Handle(_ context.Context, e *Entry) error {
	if !IsSecurityEvent(e) {
		return nil
	}
	return s.pub.PublishJSON(s.pub.Topics().SecurityEvent(e.Action), securityEvent{
		ID:        e.ID,
		Action:    e.Action,
		Result:    e.Result,
		UserID:    e.UserID,
		ClientIP:  e.ClientIP,
		Timestamp: e.CreatedAt,
	})
}

// EventWriter is the subset of the InfluxDB client used by InfluxSink.
type EventWriter interface {
	WriteAuthEvent(action, result, userType string, at time.Time)
}

// InfluxSink writes one auth_events point per entry.
type InfluxSink struct {
	w EventWriter
}

// NewInfluxSink creates an InfluxSink.
func NewInfluxSink(w EventWriter) *InfluxSink {
	return &InfluxSink{w: w}
}

func (s *InfluxSink) Name() string { return "influxdb" }

// Handle records e. The write itself is batched by the client.
func (s *InfluxSink) Handle(_ context.Context, e *Entry) error {
	s.w.WriteAuthEvent(e.Action, string(e.Result), UserType(e), e.CreatedAt)
	return nil
}

// UserType returns the userType detail of e, or "".
func UserType(e *Entry) string {
	if e.Details == nil {
		return ""
	}
	if t, ok := e.Details["userType"].(string); ok {
		return t
	}
	return ""
}
