// Package bus provides the in-process publish/subscribe broker for canvas
// and operation events.
//
// ════════════════════════════════════════════════════════════════
// Delivery discipline
// ════════════════════════════════════════════════════════════════
//
// Emit never blocks the caller beyond queueing: every subscriber owns a
// buffered channel drained by its own goroutine, so a slow subscriber can
// not delay the emitter or other subscribers. Within one topic a single
// subscriber observes events in emission order; across subscribers no
// order is guaranteed. Handler errors and panics are logged and swallowed,
// never propagated back to the emitter.
//
// Two subscription modes exist:
//
//   - Subscribe:      events are handled sequentially on the subscriber's
//                     goroutine (ordered).
//   - SubscribeAsync: each event is handled on its own goroutine
//                     (unordered, for handlers that fan out themselves).
//
// When a subscriber's buffer is full the event is dropped for that
// subscriber with a warning. Consumers that cannot keep up must not make
// the whole canvas pipeline lag.
// ════════════════════════════════════════════════════════════════
package bus

import "time"

// Topic is the fixed set of event topics the core publishes.
type Topic string

const (
	TopicCardCreated         Topic = "card_created"
	TopicCardUpdated         Topic = "card_updated"
	TopicCardDeleted         Topic = "card_deleted"
	TopicConnectionCreated   Topic = "connection_created"
	TopicConnectionSuggested Topic = "connection_suggested"
	TopicProgressUpdate      Topic = "progress_update"
	TopicOperationComplete   Topic = "operation_complete"
	TopicOperationFailed     Topic = "operation_failed"
	TopicOperationCancelled  Topic = "operation_cancelled"
)

// IsValid checks if the topic is one of the published set.
func (t Topic) IsValid() bool {
	switch t {
	case TopicCardCreated, TopicCardUpdated, TopicCardDeleted,
		TopicConnectionCreated, TopicConnectionSuggested, TopicProgressUpdate,
		TopicOperationComplete, TopicOperationFailed, TopicOperationCancelled:
		return true
	default:
		return false
	}
}

// Event wraps a payload with its topic and emission time.
type Event struct {
	Topic     Topic     `json:"topic"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// CardCreatedPayload is the payload for card_created events.
type CardCreatedPayload struct {
	CardID   string         `json:"card_id"`
	CanvasID string         `json:"canvas_id"`
	Title    string         `json:"title,omitempty"`
	Content  string         `json:"content,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// CardUpdatedPayload is the payload for card_updated events.
type CardUpdatedPayload struct {
	CardID   string         `json:"card_id"`
	CanvasID string         `json:"canvas_id"`
	Title    string         `json:"title,omitempty"`
	Content  string         `json:"content,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// CardDeletedPayload is the payload for card_deleted events.
type CardDeletedPayload struct {
	CardID   string `json:"card_id"`
	CanvasID string `json:"canvas_id"`
}

// ConnectionCreatedPayload is the payload for connection_created events.
type ConnectionCreatedPayload struct {
	SourceID        string   `json:"source_id"`
	TargetID        string   `json:"target_id"`
	CanvasID        string   `json:"canvas_id"`
	ConnectionType  string   `json:"connection_type"`
	SimilarityScore *float64 `json:"similarity_score,omitempty"`
}

// ConnectionSuggestedPayload is the payload for connection_suggested
// events. Suggestions are advisory: the canvas service (or the user)
// decides whether to materialize one, at which point a connection_created
// event follows.
type ConnectionSuggestedPayload struct {
	SourceID       string  `json:"source_id"`
	TargetID       string  `json:"target_id"`
	CanvasID       string  `json:"canvas_id"`
	ConnectionType string  `json:"connection_type"`
	Score          float64 `json:"score"`
}

// ProgressUpdatePayload is the payload for progress_update events.
type ProgressUpdatePayload struct {
	OperationID   string  `json:"operation_id"`
	OperationType string  `json:"operation_type"`
	CanvasID      string  `json:"canvas_id,omitempty"`
	SessionID     string  `json:"session_id,omitempty"`
	Step          string  `json:"step"`
	Progress      float64 `json:"progress"` // [0,1]
	Message       string  `json:"message"`
	CardsCreated  int     `json:"cards_created"`
	EstimatedTime *int    `json:"estimated_time,omitempty"` // seconds remaining
	CanCancel     bool    `json:"can_cancel"`
}

// OperationCompletePayload is the payload for operation_complete events.
type OperationCompletePayload struct {
	OperationID   string   `json:"operation_id"`
	OperationType string   `json:"operation_type"`
	CanvasID      string   `json:"canvas_id,omitempty"`
	SessionID     string   `json:"session_id,omitempty"`
	Message       string   `json:"message,omitempty"`
	CardsCreated  []string `json:"cards_created,omitempty"`
}

// OperationFailedPayload is the payload for operation_failed events.
// CardsCreated lists artifacts that survived the failure; the checkpoint
// is retained so the operation can be resumed.
type OperationFailedPayload struct {
	OperationID   string   `json:"operation_id"`
	OperationType string   `json:"operation_type"`
	CanvasID      string   `json:"canvas_id,omitempty"`
	SessionID     string   `json:"session_id,omitempty"`
	Error         string   `json:"error"`
	CardsCreated  []string `json:"cards_created,omitempty"`
}

// OperationCancelledPayload is the payload for operation_cancelled events.
type OperationCancelledPayload struct {
	OperationID   string `json:"operation_id"`
	OperationType string `json:"operation_type"`
	CanvasID      string `json:"canvas_id,omitempty"`
	SessionID     string `json:"session_id,omitempty"`
}
