package types

import (
	"fmt"
	"strings"
)

// Topic suffixes a device publishes on.
const (
	SuffixSensors  = "sensors"
	SuffixAlerts   = "alerts"
	SuffixStatus   = "status"
	SuffixCommands = "commands"
)

// DefaultNamespace is the first topic segment used by the irrigation fleet.
const DefaultNamespace = "irrigation"

// Topics builds the topic strings for one namespace.
type Topics struct {
	Namespace string
}

// NewTopics returns a Topics for namespace, falling back to DefaultNamespace.
func NewTopics(namespace string) Topics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return Topics{Namespace: namespace}
}

// Device returns <namespace>/<deviceID>/<suffix>.
func (t Topics) Device(deviceID, suffix string) string {
	return fmt.Sprintf("%s/%s/%s", t.Namespace, deviceID, suffix)
}

// Subscriptions returns the three inbound topics of a device, sensors first.
func (t Topics) Subscriptions(deviceID string) []string {
	return []string{
		t.Device(deviceID, SuffixSensors),
		t.Device(deviceID, SuffixAlerts),
		t.Device(deviceID, SuffixStatus),
	}
}

// Commands returns the command topic of a device.
func (t Topics) Commands(deviceID string) string {
	return t.Device(deviceID, SuffixCommands)
}

// Alerts returns the fleet-wide alert topic for a severity.
func (t Topics) Alerts(severity Severity) string {
	return fmt.Sprintf("%s/alerts/%s", t.Namespace, severity)
}

// DeviceTopic is a parsed <namespace>/<device>/<suffix> topic.
type DeviceTopic struct {
	Namespace string
	DeviceID  string
	Suffix    string
}

// ParseDeviceTopic splits a three-segment device topic. Topics of any other
// shape return ok=false.
func ParseDeviceTopic(topic string) (DeviceTopic, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 {
		return DeviceTopic{}, false
	}
	for _, p := range parts {
		if p == "" {
			return DeviceTopic{}, false
		}
	}
	return DeviceTopic{Namespace: parts[0], DeviceID: parts[1], Suffix: parts[2]}, true
}
