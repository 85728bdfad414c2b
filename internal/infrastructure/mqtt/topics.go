package mqtt

import "fmt"

const (
	// TopicPrefixCore is the base for everything keygate publishes.
	TopicPrefixCore = "keygate/core"

	// TopicPrefixSystem carries process status (online, offline).
	TopicPrefixSystem = "keygate/system"
)

// EventKillSwitchUpdate is published retained.
const EventKillSwitchUpdate = "kill-switch-update"

// Topics builds keygate topic names.
//
//	topics := mqtt.Topics{}
//	topics.Event("presence-update") // keygate/core/event/presence-update
type Topics struct{}

// Event returns the topic for a mirrored real-time event.
func (Topics) Event(eventType string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefixCore, eventType)
}

// AllEvents is the wildcard subscribers use to follow every event.
func (Topics) AllEvents() string {
	return TopicPrefixCore + "/event/+"
}

// SystemStatus is the retained online/offline status topic (also the LWT).
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}
