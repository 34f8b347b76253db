package domain

import "time"

// EventKind is the closed set of client-visible event kinds.
type EventKind string

const (
	// Lifecycle of one turn.
	EventRunStarted  EventKind = "run_started"
	EventRunFinished EventKind = "run_finished"
	EventRunError    EventKind = "run_error"

	// Tool selection.
	EventToolCallStart  EventKind = "tool_call_start"
	EventToolCallResult EventKind = "tool_call_result"

	// Pipeline state.
	EventStateDelta EventKind = "state_delta"

	// Assistant commentary.
	EventTextMessageContent EventKind = "text_message_content"

	// Human-in-the-loop.
	EventValidationRequest EventKind = "validation_request"
	EventHumanFeedback     EventKind = "human_feedback"

	// Stream control.
	EventLogTruncated EventKind = "log_truncated"
	EventClose        EventKind = "close"

	// EventUnrecognized marks kinds outside the known set. They are
	// surfaced, never silently dropped.
	EventUnrecognized EventKind = "unrecognized"
)

// knownKinds is the exhaustive set handled at the streaming boundary.
var knownKinds = map[EventKind]struct{}{
	EventRunStarted:         {},
	EventRunFinished:        {},
	EventRunError:           {},
	EventToolCallStart:      {},
	EventToolCallResult:     {},
	EventStateDelta:         {},
	EventTextMessageContent: {},
	EventValidationRequest:  {},
	EventHumanFeedback:      {},
	EventLogTruncated:       {},
	EventClose:              {},
}

// ParseEventKind maps a wire tag onto the closed kind set.
func ParseEventKind(s string) EventKind {
	k := EventKind(s)
	if _, ok := knownKinds[k]; ok {
		return k
	}
	return EventUnrecognized
}

// Terminal reports whether no further events follow this kind on a stream.
func (k EventKind) Terminal() bool {
	return k == EventClose
}

// Event is one ordered, sequence-numbered unit of the event protocol.
// Seq is assigned by the session's event log and is strictly increasing
// for the life of the session; it is never reused.
type Event struct {
	Seq       uint64         `json:"sequence,omitempty"`
	Type      EventKind      `json:"type"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"session_id"`
}
