package api

// LiveDataSource provides real-time state from the running pipeline to the API layer.
// The ingest side implements this interface; api owns it so there is no import cycle.
type LiveDataSource interface {
	// Subscribe returns a channel that receives SSE events matching the filter,
	// and a cancel function to unsubscribe.
	Subscribe(filter EventFilter) (<-chan SSEEvent, func())

	// ReplaySince returns buffered events since the given event ID (for Last-Event-ID recovery).
	ReplaySince(lastEventID string, filter EventFilter) []SSEEvent

	// WatcherStatus returns the transcript watcher status, or nil if not active.
	WatcherStatus() *WatcherStatusData

	// SpeechStatus returns the speech output status, or nil if speech is disabled.
	SpeechStatus() *SpeechStatusData
}

// WatcherStatusData represents the state of the transcript change watcher.
type WatcherStatusData struct {
	Status               string `json:"status"` // "starting", "watching", "stopped"
	Path                 string `json:"path"`
	Offset               int64  `json:"offset"`
	Cycles               int64  `json:"cycles"`
	SkippedNotifications int64  `json:"skipped_notifications"`
	Entries              int64  `json:"entries"`
	Malformed            int64  `json:"malformed"`
	Truncations          int64  `json:"truncations"`
}

// SpeechStatusData represents the speech output queue.
type SpeechStatusData struct {
	Playing   bool  `json:"playing"`
	Pending   int   `json:"pending"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// EventFilter specifies which events an SSE subscriber wants to receive.
type EventFilter struct {
	Types []string
}

// SSEEvent represents a server-sent event ready for transmission.
type SSEEvent struct {
	ID        string `json:"event_id"`
	Type      string `json:"event_type"`
	Timestamp string `json:"timestamp"`
	Data      []byte `json:"-"` // pre-serialized JSON payload
}
