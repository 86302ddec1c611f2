package mqtt

import "fmt"

// Topic prefixes for EquipWatch MQTT traffic.
const (
	// TopicPrefix is the root of every EquipWatch topic.
	TopicPrefix = "equipwatch"

	// TopicPrefixSystem is the base for service status topics.
	TopicPrefixSystem = "equipwatch/system"

	// TopicPrefixAudit is the default base for audit events.
	// Overridable via audit.topic_prefix.
	TopicPrefixAudit = "equipwatch/audit"
)

// Topics provides builders for EquipWatch MQTT topics.
//
//	topic := mqtt.Topics{}.Audit("login_failure")
//	// Returns: "equipwatch/audit/login_failure"
type Topics struct{}

// SystemStatus returns the retained service status topic.
//
// Example: equipwatch/system/status
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// Audit returns the topic for one audit action under the default prefix.
//
// Example: equipwatch/audit/permission_denied
func (Topics) Audit(action string) string {
	return fmt.Sprintf("%s/%s", TopicPrefixAudit, action)
}

// AllAudit returns a pattern matching every audit action.
//
// Pattern: equipwatch/audit/+
func (Topics) AllAudit() string {
	return TopicPrefixAudit + "/+"
}

// AllTopics returns a pattern matching all EquipWatch topics.
//
// Pattern: equipwatch/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}
