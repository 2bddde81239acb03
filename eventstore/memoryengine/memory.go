// Package memoryengine provides an in-memory event store implementing the
// same contract as the SQL engine. It is meant for unit tests and
// prototyping: streams live in process memory, positions are assigned
// sequentially per stream, and metadata matchers are evaluated directly on
// the envelopes.
package memoryengine

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mablae/pdo-event-store/eventstore"
)

// EventStore is an in-memory eventstore.EventStore implementation.
// It is safe for concurrent use.
type EventStore struct {
	mu      sync.RWMutex
	streams map[eventstore.StreamName]*memoryStream
}

type memoryStream struct {
	metadata map[string]any
	events   eventstore.EventEnvelopes
	nextNo   uint64
}

// NewEventStore creates an empty in-memory store.
func NewEventStore() *EventStore {
	return &EventStore{streams: make(map[eventstore.StreamName]*memoryStream)}
}

// Create registers the stream and appends its initial events.
func (es *EventStore) Create(_ context.Context, stream eventstore.Stream) error {
	if stream.Name == "" {
		return eventstore.ErrEmptyStreamName
	}

	events, err := eventstore.CollectEvents(stream.Events)
	if err != nil {
		return err
	}

	es.mu.Lock()
	defer es.mu.Unlock()

	if _, exists := es.streams[stream.Name]; exists {
		return eventstore.ErrStreamAlreadyExists
	}

	metadata := stream.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	s := &memoryStream{metadata: metadata, nextNo: 1}
	es.streams[stream.Name] = s

	return s.append(events)
}

// AppendTo appends the events onto an existing stream.
func (es *EventStore) AppendTo(_ context.Context, name eventstore.StreamName, events ...eventstore.EventEnvelope) error {
	if name == "" {
		return eventstore.ErrEmptyStreamName
	}

	es.mu.Lock()
	defer es.mu.Unlock()

	s, exists := es.streams[name]
	if !exists {
		return eventstore.ErrStreamNotFound
	}

	return s.append(events)
}

func (s *memoryStream) append(events eventstore.EventEnvelopes) error {
	// uniqueness rules first, so that a conflicting batch leaves no rows
	seen := make(map[string]struct{}, len(events))
	for _, event := range events {
		id := event.EventID.String()
		if _, dup := seen[id]; dup {
			return eventstore.ErrConcurrencyConflict
		}
		seen[id] = struct{}{}

		for _, existing := range s.events {
			if existing.EventID == event.EventID {
				return eventstore.ErrConcurrencyConflict
			}
		}
	}

	for _, event := range events {
		s.events = append(s.events, event.WithNo(s.nextNo))
		s.nextNo++
	}

	return nil
}

// Load returns the stream with a forward iterator over the matching events.
func (es *EventStore) Load(
	_ context.Context,
	name eventstore.StreamName,
	fromNo uint64,
	count uint64,
	matcher eventstore.MetadataMatcher,
) (eventstore.Stream, error) {

	return es.load(name, fromNo, count, matcher, true)
}

// LoadReverse returns the stream with a backward iterator over the matching events.
func (es *EventStore) LoadReverse(
	_ context.Context,
	name eventstore.StreamName,
	fromNo uint64,
	count uint64,
	matcher eventstore.MetadataMatcher,
) (eventstore.Stream, error) {

	return es.load(name, fromNo, count, matcher, false)
}

func (es *EventStore) load(
	name eventstore.StreamName,
	fromNo uint64,
	count uint64,
	matcher eventstore.MetadataMatcher,
	forward bool,
) (eventstore.Stream, error) {

	if name == "" {
		return eventstore.Stream{}, eventstore.ErrEmptyStreamName
	}

	es.mu.RLock()
	defer es.mu.RUnlock()

	s, exists := es.streams[name]
	if !exists {
		return eventstore.Stream{}, eventstore.ErrStreamNotFound
	}

	if forward && fromNo == 0 {
		fromNo = 1
	}
	if !forward && fromNo == 0 {
		fromNo = s.nextNo
	}

	var selected eventstore.EventEnvelopes
	appendMatching := func(event eventstore.EventEnvelope) bool {
		if count > 0 && uint64(len(selected)) == count {
			return false
		}
		if matches(matcher, event) {
			selected = append(selected, event)
		}
		return true
	}

	if forward {
		for _, event := range s.events {
			if event.No < fromNo {
				continue
			}
			if !appendMatching(event) {
				break
			}
		}
	} else {
		for i := len(s.events) - 1; i >= 0; i-- {
			event := s.events[i]
			if event.No > fromNo {
				continue
			}
			if !appendMatching(event) {
				break
			}
		}
	}

	return eventstore.Stream{
		Name:     name,
		Metadata: copyMetadata(s.metadata),
		Events:   eventstore.EventsFrom(selected...),
	}, nil
}

// Delete removes the stream.
func (es *EventStore) Delete(_ context.Context, name eventstore.StreamName) error {
	es.mu.Lock()
	defer es.mu.Unlock()

	if _, exists := es.streams[name]; !exists {
		return eventstore.ErrStreamNotFound
	}

	delete(es.streams, name)

	return nil
}

// HasStream reports whether the stream exists.
func (es *EventStore) HasStream(_ context.Context, name eventstore.StreamName) (bool, error) {
	es.mu.RLock()
	defer es.mu.RUnlock()

	_, exists := es.streams[name]

	return exists, nil
}

// FetchStreamMetadata returns the stream's creation metadata.
func (es *EventStore) FetchStreamMetadata(_ context.Context, name eventstore.StreamName) (map[string]any, bool, error) {
	es.mu.RLock()
	defer es.mu.RUnlock()

	s, exists := es.streams[name]
	if !exists {
		return nil, false, nil
	}

	return copyMetadata(s.metadata), true, nil
}

// UpdateStreamMetadata replaces the stream's metadata.
func (es *EventStore) UpdateStreamMetadata(_ context.Context, name eventstore.StreamName, metadata map[string]any) error {
	es.mu.Lock()
	defer es.mu.Unlock()

	s, exists := es.streams[name]
	if !exists {
		return eventstore.ErrStreamNotFound
	}

	s.metadata = copyMetadata(metadata)

	return nil
}

// FetchStreamNames lists all streams, internal ones included, ordered by name.
func (es *EventStore) FetchStreamNames(_ context.Context) ([]eventstore.StreamName, error) {
	es.mu.RLock()
	defer es.mu.RUnlock()

	names := make([]eventstore.StreamName, 0, len(es.streams))
	for name := range es.streams {
		names = append(names, name)
	}

	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })

	return names, nil
}

// FetchCategoryStreamNames lists all streams whose name starts with "<category>-".
func (es *EventStore) FetchCategoryStreamNames(_ context.Context, category string) ([]eventstore.StreamName, error) {
	all, _ := es.FetchStreamNames(context.Background())

	names := make([]eventstore.StreamName, 0, len(all))
	for _, name := range all {
		if name.InCategory(category) {
			names = append(names, name)
		}
	}

	return names, nil
}

/***** matcher evaluation *****/

func matches(matcher eventstore.MetadataMatcher, event eventstore.EventEnvelope) bool {
	for _, term := range matcher.Terms() {
		if !matchesTerm(term, event) {
			return false
		}
	}

	return true
}

func matchesTerm(term eventstore.MatchTerm, event eventstore.EventEnvelope) bool {
	var fieldValue any

	switch term.FieldType {
	case eventstore.FieldTypeMessageProperty:
		switch term.Field {
		case eventstore.PropertyEventID:
			fieldValue = event.EventID.String()
		case eventstore.PropertyEventName:
			fieldValue = event.EventName
		case eventstore.PropertyCreatedAt:
			fieldValue = event.CreatedAtString()
		}
	default:
		var present bool
		fieldValue, present = event.Metadata[term.Field]
		if !present {
			return false
		}
	}

	switch term.Operator {
	case eventstore.OpEquals:
		return looseEquals(fieldValue, term.Value)
	case eventstore.OpNotEquals:
		return !looseEquals(fieldValue, term.Value)
	case eventstore.OpGreaterThan:
		return looseCompare(fieldValue, term.Value) > 0
	case eventstore.OpGreaterThanEquals:
		return looseCompare(fieldValue, term.Value) >= 0
	case eventstore.OpLowerThan:
		return looseCompare(fieldValue, term.Value) < 0
	case eventstore.OpLowerThanEquals:
		return looseCompare(fieldValue, term.Value) <= 0
	case eventstore.OpIn:
		return containsLoose(eventstore.TermValues(term), fieldValue)
	case eventstore.OpNotIn:
		return !containsLoose(eventstore.TermValues(term), fieldValue)
	case eventstore.OpRegex:
		pattern, _ := term.Value.(string)
		matched, _ := regexp.MatchString(pattern, fmt.Sprintf("%v", fieldValue))
		return matched
	default:
		return false
	}
}

func looseEquals(a, b any) bool {
	if af, aOK := toFloat(a); aOK {
		if bf, bOK := toFloat(b); bOK {
			return af == bf
		}
	}

	if at, aOK := toTimeString(a); aOK {
		if bt, bOK := toTimeString(b); bOK {
			return at == bt
		}
	}

	return a == b
}

func looseCompare(a, b any) int {
	if af, aOK := toFloat(a); aOK {
		if bf, bOK := toFloat(b); bOK {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}

	as, aOK := toTimeString(a)
	bs, bOK := toTimeString(b)
	if !aOK || !bOK {
		as = fmt.Sprintf("%v", a)
		bs = fmt.Sprintf("%v", b)
	}

	return strings.Compare(as, bs)
}

func containsLoose(values []any, needle any) bool {
	for _, value := range values {
		if looseEquals(needle, value) {
			return true
		}
	}

	return false
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}

func toTimeString(value any) (string, bool) {
	switch v := value.(type) {
	case time.Time:
		return v.UTC().Format(eventstore.CreatedAtFormat), true
	case string:
		return v, true
	default:
		return "", false
	}
}

func copyMetadata(metadata map[string]any) map[string]any {
	copied := make(map[string]any, len(metadata))
	for k, v := range metadata {
		copied[k] = v
	}

	return copied
}
