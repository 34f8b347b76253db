package domain

import "errors"

// ErrUnknownNode is returned when an edge endpoint or node id does not
// resolve within a graph.
var ErrUnknownNode = errors.New("unknown node")

// ErrUnknownEdge is returned when an edge id does not resolve within a graph.
var ErrUnknownEdge = errors.New("unknown edge")

// ErrToolNotFound is returned when a tool id cannot be resolved against
// the tool directory.
var ErrToolNotFound = errors.New("tool not found")

// ErrSessionNotFound is returned for session ids the registry has never seen.
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionExpired is returned for session ids released by the idle sweep.
var ErrSessionExpired = errors.New("session expired")

// ErrSessionBusy is returned when a turn is started while another turn
// is still being processed. Turns are strictly serialized per session.
var ErrSessionBusy = errors.New("session busy: turn in progress")

// ErrTurnCancelled is returned when a turn is cancelled while suspended.
var ErrTurnCancelled = errors.New("turn cancelled")

// ErrLogTruncated is returned when a subscriber asks for events that
// have been evicted from the retention window.
var ErrLogTruncated = errors.New("event log truncated")

// ErrStreamClosed is returned when publishing to or subscribing on a
// stream that has delivered its terminal close event.
var ErrStreamClosed = errors.New("event stream closed")

// ErrNoFeedbackPending is returned when human feedback arrives while the
// machine is not waiting for any.
var ErrNoFeedbackPending = errors.New("no feedback pending")

// ErrDirectoryEmpty is returned when neither the app directory nor its
// cache yields any tools. An engine with an empty directory cannot
// build anything.
var ErrDirectoryEmpty = errors.New("tool directory is empty")

// ErrPipelineNotFound is returned when a named pipeline document is not
// present in the store.
var ErrPipelineNotFound = errors.New("pipeline not found")
