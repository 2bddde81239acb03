// Package fixtures provides user-domain event envelopes for tests.
package fixtures

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/mablae/pdo-event-store/eventstore"
)

const (
	UserCreatedEventName     = "UserCreated"
	UsernameChangedEventName = "UsernameChanged"
)

// UserCreated builds a UserCreated envelope at the given instant.
func UserCreated(t *testing.T, userID string, occurredAt time.Time) eventstore.EventEnvelope {
	t.Helper()

	envelope, err := eventstore.BuildEventEnvelope(
		uuid.New(),
		UserCreatedEventName,
		map[string]any{"user_id": userID, "name": "Sasha"},
		map[string]any{},
		occurredAt,
	)
	require.NoError(t, err)

	return envelope
}

// UsernameChanged builds a UsernameChanged envelope at the given instant.
func UsernameChanged(t *testing.T, userID string, changeNo int, occurredAt time.Time) eventstore.EventEnvelope {
	t.Helper()

	envelope, err := eventstore.BuildEventEnvelope(
		uuid.New(),
		UsernameChangedEventName,
		map[string]any{"user_id": userID, "name": fmt.Sprintf("Sasha-%d", changeNo)},
		map[string]any{},
		occurredAt,
	)
	require.NoError(t, err)

	return envelope
}

// WithAggregate stamps the aggregate metadata entries the single-stream and
// aggregate-stream strategies index.
func WithAggregate(envelope eventstore.EventEnvelope, aggregateID string, version int) eventstore.EventEnvelope {
	return envelope.
		WithMetadata(eventstore.MetadataAggregateType, "user").
		WithMetadata(eventstore.MetadataAggregateID, aggregateID).
		WithMetadata(eventstore.MetadataAggregateVersion, version)
}
