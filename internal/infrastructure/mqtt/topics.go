package mqtt

import "fmt"

// Topic prefixes on the site broker.
const (
	// TopicPrefix is the root of every bridge topic.
	TopicPrefix = "obloq"

	// TopicPrefixSystem is the base for process-level topics.
	TopicPrefixSystem = "obloq/system"
)

// Topics provides builders for process-level topics. Feed topics
// (obloq/state/{feed}, obloq/command/{feed}, obloq/health) are owned by
// the obloq bridge package.
type Topics struct{}

// SystemStatus returns the topic carrying the bridge process online/offline
// status, including the last will.
//
// Example: obloq/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllFeedStates returns a pattern matching every feed state topic.
//
// Pattern: obloq/state/+
func (Topics) AllFeedStates() string {
	return fmt.Sprintf("%s/state/+", TopicPrefix)
}

// AllTopics returns a pattern matching every bridge topic.
//
// Pattern: obloq/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}
