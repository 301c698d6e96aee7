// Package events defines the event types and publisher interfaces emitted
// around RPC calls, for the audit/observability supplement.
package events

// RPCCallEvent is emitted after every completed RPC call, successful or
// not, per the pkg/audit trail.
type RPCCallEvent struct {
	RequestID  string `json:"requestId,omitempty"`
	Action     string `json:"action"`
	Version    string `json:"version"`
	UserID     string `json:"userId,omitempty"`
	Status     int    `json:"status"`
	ErrorKind  string `json:"errorKind,omitempty"`
	DurationMs int64  `json:"durationMs"`
	Timestamp  string `json:"timestamp"`
}
