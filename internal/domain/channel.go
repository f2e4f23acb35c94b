package domain

import "slices"

// AggregateTopic is the topic key of the session subscribed to the bare subject
const AggregateTopic = "all"

// ChannelConfig selects which realtime topics to follow.
// A zero SubjectID or Origin means "no realtime channels".
type ChannelConfig struct {
	SubjectID   string
	SubTopicIDs []string
	Origin      string
}

// Enabled returns true if the configuration can open any session
func (c ChannelConfig) Enabled() bool {
	return c.SubjectID != "" && c.Origin != ""
}

// Equal compares subject, origin and the ordered sub-topic list
func (c ChannelConfig) Equal(o ChannelConfig) bool {
	return c.SubjectID == o.SubjectID &&
		c.Origin == o.Origin &&
		slices.Equal(c.SubTopicIDs, o.SubTopicIDs)
}

// ChannelEventType separates connection status changes from payloads
type ChannelEventType string

const (
	ChannelEventStatus ChannelEventType = "status"
	ChannelEventData   ChannelEventType = "data"
)

// Channel status values carried by status events
const (
	ChannelStatusOpen   = "open"
	ChannelStatusError  = "error"
	ChannelStatusClosed = "closed"
)

// ChannelEvent is emitted to the UI layer for every session transition or message.
// TopicID is empty for the aggregate topic.
type ChannelEvent struct {
	Type    ChannelEventType `json:"type"`
	TopicID string           `json:"topicId,omitempty"`
	Status  string           `json:"status,omitempty"`
	Error   string           `json:"error,omitempty"`
	Data    any              `json:"data,omitempty"`
	Raw     string           `json:"raw,omitempty"`
}
