package mqtt

import "strings"

// TopicPrefixTelemetry is the root of the telemetry topic tree:
// telemetry/{tenant}/{device}.
const TopicPrefixTelemetry = "telemetry"

// TelemetryFilter returns the subscription filter covering every device of a tenant.
//
// Example: telemetry/DEFAULT_TENANT/#
func TelemetryFilter(tenant string) string {
	return TopicPrefixTelemetry + "/" + tenant + "/#"
}

// ParseTelemetryTopic extracts the tenant and device from a telemetry topic.
// Topics with extra levels below the device are accepted; the device is the
// third level.
func ParseTelemetryTopic(topic string) (tenant, device string, ok bool) {
	parts := strings.SplitN(topic, "/", 4)
	if len(parts) < 3 || parts[0] != TopicPrefixTelemetry || parts[1] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}
