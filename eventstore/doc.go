// Package eventstore provides the core abstractions and value types for an
// append-only event store backed by a relational database.
//
// This package defines the fundamental types used across the database-specific
// engines: event envelopes, streams, metadata matchers, and common error
// definitions. The engines themselves live in the sub-packages:
//
//   - eventstore/sqlengine: the Postgres/MySQL persistence engine
//   - eventstore/strategy: the dialect and table-layout policies
//   - eventstore/memoryengine: an in-memory engine for tests and prototyping
//
// Streams are identified by a StreamName. Names starting with "$" are reserved
// for internal streams and are excluded from wildcard stream selection.
//
// Common usage pattern:
//
//	envelope, err := eventstore.NewEventEnvelope(
//		"UserCreated",
//		map[string]any{"name": "Sasha"},
//		map[string]any{"tenant": "acme"},
//	)
//	if err != nil {
//		// handle error
//	}
//
//	err = store.Create(ctx, eventstore.NewStream("user-123", nil, envelope))
//
//	matcher, err := eventstore.NewMetadataMatcher(
//		eventstore.MatchMetadata("tenant", eventstore.OpEquals, "acme"),
//	)
//	stream, err := store.Load(ctx, "user-123", 1, 0, matcher)
//	defer stream.Events.Close()
//	for stream.Events.Next() {
//		event := stream.Events.Event()
//		// consume event
//	}
package eventstore
