package run

import "github.com/weavel-fastllm/fastllm/parse"

// EventKind labels one streamed run event.
type EventKind string

const (
	KindRaw       EventKind = "raw"
	KindParsed    EventKind = "parsed"
	KindCompleted EventKind = "completed"
	KindFailed    EventKind = "failed"
)

// Event is one unit of run output. A run emits any number of raw/parsed
// events in stream order, then exactly one terminal Completed or Failed
// event, after which the channel closes.
type Event struct {
	Kind   EventKind
	Text   string       // KindRaw: the raw output delta
	Parsed *parse.Delta // KindParsed: the field delta
	Error  string       // KindFailed: the failure detail
}

// Terminal reports whether the event ends the run.
func (e Event) Terminal() bool {
	return e.Kind == KindCompleted || e.Kind == KindFailed
}
