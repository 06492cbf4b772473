package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is used when the configuration leaves the prefix empty.
const DefaultTopicPrefix = "ecozone"

// Topics builds auth-service topic names under a common prefix.
//
//	topics := mqtt.Topics{Prefix: "ecozone"}
//	topics.SecurityEvent("account_locked")
//	// Returns: "ecozone/auth/security/account_locked"
type Topics struct {
	Prefix string
}

func (t Topics) base() string {
	p := strings.Trim(t.Prefix, "/")
	if p == "" {
		p = DefaultTopicPrefix
	}
	return p + "/auth"
}

// Status is the retained online/offline topic for this service.
func (t Topics) Status() string {
	return t.base() + "/status"
}

// SecurityEvent is where lockouts and repeated failures are announced.
func (t Topics) SecurityEvent(event string) string {
	return fmt.Sprintf("%s/security/%s", t.base(), sanitiseSegment(event))
}

// sanitiseSegment strips MQTT wildcard and separator characters so caller
// data can never widen a topic.
func sanitiseSegment(s string) string {
	r := strings.NewReplacer("/", "_", "+", "_", "#", "_")
	s = r.Replace(strings.TrimSpace(s))
	if s == "" {
		return "unknown"
	}
	return s
}
