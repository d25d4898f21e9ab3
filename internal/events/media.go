package events

// Event type constants for the push pipeline.
const (
	EventTypeMediaReceived = "media.received"
	EventTypePushSent      = "push.sent"
	EventTypePushDropped   = "push.dropped"
)

// MediaReceivedEvent is published when a webhook stores a new source
// row. EntityType names the source table, EntityID the row.
type MediaReceivedEvent struct {
	BaseEvent
	Title string `json:"title,omitempty"`
}

// NewMediaReceivedEvent creates an event for a freshly stored row.
func NewMediaReceivedEvent(source string, rowID int64, title string) MediaReceivedEvent {
	return MediaReceivedEvent{
		BaseEvent: NewBaseEvent(EventTypeMediaReceived, source, rowID),
		Title:     title,
	}
}

// PushSentEvent is published after a row was committed as sent.
type PushSentEvent struct {
	BaseEvent
	Title  string `json:"title,omitempty"`
	Merged bool   `json:"merged,omitempty"`
}

// NewPushSentEvent creates an event for a committed push.
func NewPushSentEvent(source string, rowID int64, title string, merged bool) PushSentEvent {
	return PushSentEvent{
		BaseEvent: NewBaseEvent(EventTypePushSent, source, rowID),
		Title:     title,
		Merged:    merged,
	}
}

// PushDroppedEvent records a row that was committed but whose message
// could not be delivered. At-most-once delivery means it is not retried.
type PushDroppedEvent struct {
	BaseEvent
	Title  string `json:"title,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// NewPushDroppedEvent creates an event for a dropped delivery.
func NewPushDroppedEvent(source string, rowID int64, title, reason string) PushDroppedEvent {
	return PushDroppedEvent{
		BaseEvent: NewBaseEvent(EventTypePushDropped, source, rowID),
		Title:     title,
		Reason:    reason,
	}
}
