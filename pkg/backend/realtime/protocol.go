// Package realtime is a remote-document backend over websockets. Server
// exposes any subscribable document backend; Client implements
// provider.Documents and provider.Subscriber against it, so the
// remote-document adapter keeps live subscriptions across the wire.
package realtime

import (
	"errors"

	"github.com/goliatone/go-statesync/internal/hydrate"
	"github.com/goliatone/go-statesync/pkg/provider"
)

// Ops carried in Frame.Op.
const (
	OpGet         = "get"
	OpList        = "list"
	OpSet         = "set"
	OpAdd         = "add"
	OpDelete      = "delete"
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
	// OpReply answers the request with the same Ref.
	OpReply = "reply"
	// OpEvent pushes the current state of a subscription.
	OpEvent = "event"
)

var (
	// ErrClosed is returned by calls on a closed client.
	ErrClosed = errors.New("realtime: connection closed")
	// ErrRemote wraps failures reported by the server.
	ErrRemote = errors.New("realtime: remote error")
)

// Frame is the single JSON message shape exchanged in both directions.
type Frame struct {
	Ref     string         `json:"ref,omitempty"`
	Op      string         `json:"op"`
	Path    string         `json:"path,omitempty"`
	Sub     string         `json:"sub,omitempty"`
	ID      string         `json:"id,omitempty"`
	Found   bool           `json:"found,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
	Records []RecordFrame  `json:"records,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// RecordFrame is a provider.Record on the wire.
type RecordFrame struct {
	ID   string         `json:"id"`
	Data map[string]any `json:"data"`
}

func toFrames(records []provider.Record) []RecordFrame {
	out := make([]RecordFrame, 0, len(records))
	for _, record := range records {
		out = append(out, RecordFrame{ID: record.ID, Data: record.Data})
	}
	return out
}

func fromFrames(frames []RecordFrame) []provider.Record {
	out := make([]provider.Record, 0, len(frames))
	for _, frame := range frames {
		out = append(out, provider.Record{ID: frame.ID, Data: normalizeData(frame.Data)})
	}
	return out
}

// normalizeData restores int values that JSON decoding turned into float64.
func normalizeData(data map[string]any) map[string]any {
	if data == nil {
		return map[string]any{}
	}
	normalized, _ := hydrate.Normalize(data).(map[string]any)
	return normalized
}
