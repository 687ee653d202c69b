package events

import "time"

// ClientRequestStart is emitted right before a binding sends a request.
// The publishing context carries the request id.
type ClientRequestStart struct {
	URL           string
	OperationName string
	OperationType string
}

// ClientRequestFinish is emitted once per request that was sent, including
// superseded and aborted ones. Outcome is "success", "error", "exception"
// or "canceled".
type ClientRequestFinish struct {
	URL           string
	OperationName string
	OperationType string
	Status        int
	Outcome       string
	Err           error
	Duration      time.Duration
}
