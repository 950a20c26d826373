package mqtt

import "fmt"

// Topic prefixes for the controller's MQTT surface.
//
// The flat scheme is {prefix}/{category}/{id}: state and command
// topics carry the logical device id, diagnostics live under fixed
// topics.
const (
	// TopicPrefix is the base for all controller topics.
	TopicPrefix = "dalilink"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "dalilink/system"
)

// Topics provides builders for the controller's MQTT topics. Using
// these helpers keeps topic naming consistent across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.DeviceState("DALLA1")
//	// Returns: "dalilink/state/DALLA1"
type Topics struct{}

// SystemStatus returns the online/offline status topic. The LWT and
// the graceful shutdown message both land here, retained.
//
// Example: dalilink/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// Health returns the periodic health report topic.
//
// Example: dalilink/health
func (Topics) Health() string {
	return fmt.Sprintf("%s/health", TopicPrefix)
}

// DeviceState returns the state topic for one device.
//
// Example: dalilink/state/DALLA1
func (Topics) DeviceState(deviceID string) string {
	return fmt.Sprintf("%s/state/%s", TopicPrefix, deviceID)
}

// DeviceCommand returns the inbound command topic for one device.
//
// Example: dalilink/command/device/DALLA1
func (Topics) DeviceCommand(deviceID string) string {
	return fmt.Sprintf("%s/command/device/%s", TopicPrefix, deviceID)
}

// GroupCommand returns the inbound command topic for one group.
//
// Example: dalilink/command/group/G1
func (Topics) GroupCommand(groupID string) string {
	return fmt.Sprintf("%s/command/group/%s", TopicPrefix, groupID)
}

// AllDeviceStates returns a pattern matching every device state topic.
//
// Pattern: dalilink/state/+
func (Topics) AllDeviceStates() string {
	return fmt.Sprintf("%s/state/+", TopicPrefix)
}

// AllDeviceCommands returns a pattern matching every device command
// topic.
//
// Pattern: dalilink/command/device/+
func (Topics) AllDeviceCommands() string {
	return fmt.Sprintf("%s/command/device/+", TopicPrefix)
}

// AllGroupCommands returns a pattern matching every group command
// topic.
//
// Pattern: dalilink/command/group/+
func (Topics) AllGroupCommands() string {
	return fmt.Sprintf("%s/command/group/+", TopicPrefix)
}

// AllTopics returns a pattern matching every controller topic.
// Use with caution, this receives all traffic.
//
// Pattern: dalilink/#
func (Topics) AllTopics() string {
	return "dalilink/#"
}
