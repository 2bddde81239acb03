package projection

import (
	"context"
	"errors"
	"slices"

	"github.com/mablae/pdo-event-store/eventstore"
)

var ErrNotInitialized = errors.New("query has no initial state factory, call Init first")
var ErrAlreadyInitialized = errors.New("query is already initialized")
var ErrNoStreamsSelected = errors.New("query has no stream selector, call one of the From* methods")
var ErrSelectorAlreadySet = errors.New("query already has a stream selector")
var ErrNoHandlersConfigured = errors.New("query has no handlers, call When or WhenAny")
var ErrHandlersAlreadySet = errors.New("query already has handlers configured")
var ErrEmptyStreamSelection = errors.New("stream selector needs at least one stream name")

// State is the mutable mapping a query folds events into.
type State = map[string]any

// Handler processes one event and returns the new state. Returning an error
// aborts the running fold; the cursor keeps the last successfully processed
// position, so the next Run reprocesses the failing event.
type Handler func(state State, event eventstore.EventEnvelope) (State, error)

// EventStreamSource is the read surface the query engine works against.
// Both the SQL engine and the in-memory engine satisfy it.
type EventStreamSource interface {
	Load(ctx context.Context, name eventstore.StreamName, fromNo uint64, count uint64, matcher eventstore.MetadataMatcher) (eventstore.Stream, error)
	FetchStreamNames(ctx context.Context) ([]eventstore.StreamName, error)
	FetchCategoryStreamNames(ctx context.Context, category string) ([]eventstore.StreamName, error)
}

type selectorKind int

const (
	selectorNone selectorKind = iota
	selectorStreams
	selectorCategories
	selectorAll
)

// Query composes a stream selection with a stateful fold. It is a builder;
// configuration faults are collected and surfaced by Run.
//
// A Query is not safe for concurrent use: Run, Stop, Reset and State are
// meant to be called from a single goroutine, Stop typically from within a
// handler.
type Query struct {
	source EventStreamSource

	initFn     func() State
	kind       selectorKind
	streams    []eventstore.StreamName
	categories []string
	handlers   map[string]Handler
	anyHandler Handler
	buildErr   error

	state     State
	positions map[eventstore.StreamName]uint64
	stopped   bool
}

// NewQuery creates a query over the given event stream source.
func NewQuery(source EventStreamSource) *Query {
	return &Query{
		source:    source,
		positions: make(map[eventstore.StreamName]uint64),
	}
}

// Init sets the factory producing the initial state. It must be called
// exactly once before Run.
func (q *Query) Init(factory func() State) *Query {
	if q.initFn != nil {
		q.fail(ErrAlreadyInitialized)
		return q
	}

	q.initFn = factory

	return q
}

// FromStream selects the events of a single stream, in stream order.
func (q *Query) FromStream(name eventstore.StreamName) *Query {
	return q.selectStreams(name)
}

// FromStreams selects the events of each listed stream, merged by drawing one
// event at a time from every non-exhausted stream (fair interleave).
func (q *Query) FromStreams(names ...eventstore.StreamName) *Query {
	return q.selectStreams(names...)
}

func (q *Query) selectStreams(names ...eventstore.StreamName) *Query {
	if !q.setKind(selectorStreams) {
		return q
	}

	if len(names) == 0 {
		q.fail(ErrEmptyStreamSelection)
		return q
	}

	q.streams = names

	return q
}

// FromCategory selects all streams whose name starts with "<category>-".
// The selection set is computed when Run starts.
func (q *Query) FromCategory(category string) *Query {
	return q.FromCategories(category)
}

// FromCategories selects all streams belonging to any of the categories.
func (q *Query) FromCategories(categories ...string) *Query {
	if !q.setKind(selectorCategories) {
		return q
	}

	if len(categories) == 0 {
		q.fail(ErrEmptyStreamSelection)
		return q
	}

	q.categories = categories

	return q
}

// FromAll selects every stream except internal ones ("$"-prefixed).
func (q *Query) FromAll() *Query {
	q.setKind(selectorAll)

	return q
}

// When dispatches events by name: events without a handler are skipped but
// still advance the cursor.
func (q *Query) When(handlers map[string]Handler) *Query {
	if !q.setHandlers() {
		return q
	}

	copied := make(map[string]Handler, len(handlers))
	for eventName, handler := range handlers {
		copied[eventName] = handler
	}
	q.handlers = copied

	return q
}

// WhenAny applies the handler to every event.
func (q *Query) WhenAny(handler Handler) *Query {
	if !q.setHandlers() {
		return q
	}

	q.anyHandler = handler

	return q
}

// Run freezes the stream selection, opens an iterator per selected stream at
// its remembered resume position, and folds events into the state until every
// iterator is exhausted or a handler called Stop. A handler error aborts the
// run and is returned unchanged.
func (q *Query) Run(ctx context.Context) error {
	if q.buildErr != nil {
		return q.buildErr
	}

	if q.initFn == nil {
		return ErrNotInitialized
	}

	if q.handlers == nil && q.anyHandler == nil {
		return ErrNoHandlersConfigured
	}

	if q.kind == selectorNone {
		return ErrNoStreamsSelected
	}

	if q.state == nil {
		q.state = q.initFn()
		if q.state == nil {
			q.state = State{}
		}
	}

	q.stopped = false

	names, err := q.resolveStreamNames(ctx)
	if err != nil {
		return err
	}

	cursors, err := q.openCursors(ctx, names)
	if err != nil {
		closeCursors(cursors)
		return err
	}
	defer closeCursors(cursors)

	// round-robin: one event per non-exhausted stream per sweep
	for len(cursors) > 0 && !q.stopped {
		remaining := cursors[:0]

		for _, cursor := range cursors {
			if q.stopped {
				remaining = append(remaining, cursor)
				continue
			}

			if !cursor.events.Next() {
				if iterErr := cursor.events.Err(); iterErr != nil {
					return iterErr
				}
				_ = cursor.events.Close()
				continue
			}

			event := cursor.events.Event()
			if err = q.dispatch(event); err != nil {
				return err
			}

			q.positions[cursor.name] = event.No
			remaining = append(remaining, cursor)
		}

		cursors = remaining
	}

	return nil
}

// Stop requests a cooperative stop: the current handler completes, the fold
// exits before the next event. A later Run resumes behind the last processed
// event.
func (q *Query) Stop() {
	q.stopped = true
}

// Reset drops state and cursors; the next Run re-reads every stream from the
// beginning.
func (q *Query) Reset() {
	q.state = nil
	q.positions = make(map[eventstore.StreamName]uint64)
	q.stopped = false
}

// State returns the current state mapping, an empty one before the first Run.
func (q *Query) State() State {
	if q.state == nil {
		return State{}
	}

	return q.state
}

func (q *Query) dispatch(event eventstore.EventEnvelope) error {
	handler := q.anyHandler
	if handler == nil {
		var known bool
		handler, known = q.handlers[event.EventName]
		if !known {
			return nil
		}
	}

	newState, err := handler(q.state, event)
	if err != nil {
		return err
	}

	q.state = newState

	return nil
}

func (q *Query) resolveStreamNames(ctx context.Context) ([]eventstore.StreamName, error) {
	switch q.kind {
	case selectorStreams:
		return dedupe(q.streams), nil

	case selectorCategories:
		var names []eventstore.StreamName
		for _, category := range q.categories {
			categoryNames, err := q.source.FetchCategoryStreamNames(ctx, category)
			if err != nil {
				return nil, err
			}
			names = append(names, categoryNames...)
		}

		return dedupe(names), nil

	default:
		all, err := q.source.FetchStreamNames(ctx)
		if err != nil {
			return nil, err
		}

		names := make([]eventstore.StreamName, 0, len(all))
		for _, name := range all {
			if name.IsInternal() {
				continue
			}
			names = append(names, name)
		}

		return names, nil
	}
}

type streamCursor struct {
	name   eventstore.StreamName
	events eventstore.EventIterator
}

func (q *Query) openCursors(ctx context.Context, names []eventstore.StreamName) ([]*streamCursor, error) {
	cursors := make([]*streamCursor, 0, len(names))

	for _, name := range names {
		stream, err := q.source.Load(ctx, name, q.positions[name]+1, 0, eventstore.MetadataMatcher{})
		if err != nil {
			if q.kind != selectorStreams && errors.Is(err, eventstore.ErrStreamNotFound) {
				// selection raced a concurrent delete
				continue
			}

			return cursors, err
		}

		cursors = append(cursors, &streamCursor{name: name, events: stream.Events})
	}

	return cursors, nil
}

func closeCursors(cursors []*streamCursor) {
	for _, cursor := range cursors {
		_ = cursor.events.Close()
	}
}

func (q *Query) setKind(kind selectorKind) bool {
	if q.kind != selectorNone {
		q.fail(ErrSelectorAlreadySet)
		return false
	}

	q.kind = kind

	return true
}

func (q *Query) setHandlers() bool {
	if q.handlers != nil || q.anyHandler != nil {
		q.fail(ErrHandlersAlreadySet)
		return false
	}

	return true
}

func (q *Query) fail(err error) {
	if q.buildErr == nil {
		q.buildErr = err
	}
}

func dedupe(names []eventstore.StreamName) []eventstore.StreamName {
	deduped := make([]eventstore.StreamName, 0, len(names))
	for _, name := range names {
		if !slices.Contains(deduped, name) {
			deduped = append(deduped, name)
		}
	}

	return deduped
}
