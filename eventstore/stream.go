package eventstore

import (
	"strings"
)

// InternalStreamPrefix marks reserved streams which wildcard selectors skip.
const InternalStreamPrefix = "$"

// StreamName identifies a logical event stream.
type StreamName string

func (n StreamName) String() string {
	return string(n)
}

// IsInternal reports whether the stream is reserved ("$"-prefixed).
func (n StreamName) IsInternal() bool {
	return strings.HasPrefix(string(n), InternalStreamPrefix)
}

// InCategory reports whether the stream belongs to the given category,
// i.e. its name starts with "<category>-".
func (n StreamName) InCategory(category string) bool {
	if category == "" {
		return false
	}

	return strings.HasPrefix(string(n), category+"-")
}

// Stream bundles a stream's name, its creation-time metadata and a lazy
// sequence of its events.
type Stream struct {
	Name     StreamName
	Metadata map[string]any
	Events   EventIterator
}

// NewStream builds a Stream over the given in-memory events, typically to be
// passed to EventStore.Create. A nil metadata is replaced with an empty map.
func NewStream(name StreamName, metadata map[string]any, events ...EventEnvelope) Stream {
	if metadata == nil {
		metadata = map[string]any{}
	}

	return Stream{
		Name:     name,
		Metadata: metadata,
		Events:   EventsFrom(events...),
	}
}

// EventIterator is a cursor producing event envelopes lazily, in the style of
// sql.Rows: Next advances and reports whether an event is available, Event
// returns the current one. After Next returns false the caller must consult
// Err to distinguish exhaustion from failure. Close releases any underlying
// database resources and is safe to call more than once.
type EventIterator interface {
	Next() bool
	Event() EventEnvelope
	Err() error
	Close() error
}

// EventsFrom wraps in-memory envelopes into an EventIterator.
func EventsFrom(events ...EventEnvelope) EventIterator {
	return &sliceIterator{events: events}
}

// EmptyIterator returns an iterator producing no events.
func EmptyIterator() EventIterator {
	return &sliceIterator{}
}

// CollectEvents drains an iterator into a slice, closing it afterwards.
func CollectEvents(it EventIterator) (EventEnvelopes, error) {
	defer func() { _ = it.Close() }()

	var events EventEnvelopes
	for it.Next() {
		events = append(events, it.Event())
	}

	if err := it.Err(); err != nil {
		return nil, err
	}

	return events, nil
}

type sliceIterator struct {
	events  []EventEnvelope
	current int // 1-based, 0 = before first
}

func (it *sliceIterator) Next() bool {
	if it.current >= len(it.events) {
		return false
	}

	it.current++

	return true
}

func (it *sliceIterator) Event() EventEnvelope {
	if it.current == 0 || it.current > len(it.events) {
		return EventEnvelope{}
	}

	return it.events[it.current-1]
}

func (it *sliceIterator) Err() error {
	return nil
}

func (it *sliceIterator) Close() error {
	return nil
}
