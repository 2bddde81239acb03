package eventstore

import (
	"errors"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

// CreatedAtFormat is the canonical textual representation of an envelope's
// CreatedAt timestamp: microsecond precision, 26 characters.
const CreatedAtFormat = "2006-01-02T15:04:05.000000"

// MaxEventNameLength limits the event name to what the event_name column holds.
const MaxEventNameLength = 100

// Metadata keys recognized by the persistence strategies.
const (
	MetadataAggregateVersion = "_aggregate_version"
	MetadataAggregateID      = "_aggregate_id"
	MetadataAggregateType    = "_aggregate_type"
)

var ErrEmptyEventName = errors.New("empty event name supplied")
var ErrEventNameTooLong = errors.New("event name exceeds 100 characters")
var ErrMarshalingPayloadFailed = errors.New("marshaling event payload to json failed")
var ErrMarshalingMetadataFailed = errors.New("marshaling event metadata to json failed")
var ErrUnmarshalingPayloadFailed = errors.New("unmarshaling event payload from json failed")
var ErrUnmarshalingMetadataFailed = errors.New("unmarshaling event metadata from json failed")

// EventEnvelopes is an alias type for a slice of EventEnvelope.
type EventEnvelopes = []EventEnvelope

// EventEnvelope is the persisted representation of a single event.
//
// It is built on scalars and plain maps to be completely agnostic of the
// implementation of domain events in the client code; a serializer at the
// application boundary converts between the two.
//
// While its properties are exported, it should only be constructed with the
// supplied factory methods:
//   - NewEventEnvelope
//   - BuildEventEnvelope
type EventEnvelope struct {
	EventID   uuid.UUID
	EventName string
	Payload   map[string]any
	Metadata  map[string]any
	CreatedAt time.Time

	// No is the per-stream position, assigned by the store on append.
	// It is zero on envelopes that have not been persisted yet.
	No uint64
}

// NewEventEnvelope is a factory method for EventEnvelope.
//
// It assigns a fresh EventID and stamps CreatedAt with the current time,
// truncated to microsecond precision. A nil payload or metadata is replaced
// with an empty map so that both always serialize to valid JSON objects.
func NewEventEnvelope(eventName string, payload map[string]any, metadata map[string]any) (EventEnvelope, error) {
	return BuildEventEnvelope(uuid.New(), eventName, payload, metadata, time.Now().UTC())
}

// BuildEventEnvelope is a factory method for EventEnvelope with explicit
// identity and timestamp, used by serializers and by the engines when reading
// events back from the database.
func BuildEventEnvelope(
	eventID uuid.UUID,
	eventName string,
	payload map[string]any,
	metadata map[string]any,
	createdAt time.Time,
) (EventEnvelope, error) {

	if eventName == "" {
		return EventEnvelope{}, ErrEmptyEventName
	}

	if len(eventName) > MaxEventNameLength {
		return EventEnvelope{}, ErrEventNameTooLong
	}

	if payload == nil {
		payload = map[string]any{}
	}

	if metadata == nil {
		metadata = map[string]any{}
	}

	return EventEnvelope{
		EventID:   eventID,
		EventName: eventName,
		Payload:   payload,
		Metadata:  metadata,
		CreatedAt: createdAt.Truncate(time.Microsecond),
	}, nil
}

// WithNo returns a copy of the envelope with the given stream position.
func (e EventEnvelope) WithNo(no uint64) EventEnvelope {
	e.No = no
	return e
}

// WithMetadata returns a copy of the envelope with the given metadata entry set.
func (e EventEnvelope) WithMetadata(key string, value any) EventEnvelope {
	metadata := make(map[string]any, len(e.Metadata)+1)
	for k, v := range e.Metadata {
		metadata[k] = v
	}
	metadata[key] = value
	e.Metadata = metadata

	return e
}

// PayloadJSON serializes the payload map.
func (e EventEnvelope) PayloadJSON() ([]byte, error) {
	data, err := jsoniter.ConfigFastest.Marshal(e.Payload)
	if err != nil {
		return nil, errors.Join(ErrMarshalingPayloadFailed, err)
	}

	return data, nil
}

// MetadataJSON serializes the metadata map.
func (e EventEnvelope) MetadataJSON() ([]byte, error) {
	data, err := jsoniter.ConfigFastest.Marshal(e.Metadata)
	if err != nil {
		return nil, errors.Join(ErrMarshalingMetadataFailed, err)
	}

	return data, nil
}

// CreatedAtString formats CreatedAt in the canonical 26-character form.
func (e EventEnvelope) CreatedAtString() string {
	return e.CreatedAt.UTC().Format(CreatedAtFormat)
}

// AggregateVersion extracts the numeric "_aggregate_version" metadata entry.
// The bool result reports whether the entry is present and numeric.
func (e EventEnvelope) AggregateVersion() (uint64, bool) {
	return toUint64(e.Metadata[MetadataAggregateVersion])
}

func toUint64(value any) (uint64, bool) {
	switch v := value.(type) {
	case uint64:
		return v, true
	case uint:
		return uint64(v), true
	case int:
		if v < 0 {
			return 0, false
		}
		return uint64(v), true
	case int64:
		if v < 0 {
			return 0, false
		}
		return uint64(v), true
	case float64:
		if v < 0 || v != float64(uint64(v)) {
			return 0, false
		}
		return uint64(v), true
	default:
		return 0, false
	}
}

// UnmarshalPayloadJSON parses a payload column value into a map.
func UnmarshalPayloadJSON(data []byte) (map[string]any, error) {
	payload := make(map[string]any)
	if err := jsoniter.ConfigFastest.Unmarshal(data, &payload); err != nil {
		return nil, errors.Join(ErrUnmarshalingPayloadFailed, err)
	}

	return payload, nil
}

// UnmarshalMetadataJSON parses a metadata column value into a map.
func UnmarshalMetadataJSON(data []byte) (map[string]any, error) {
	metadata := make(map[string]any)
	if err := jsoniter.ConfigFastest.Unmarshal(data, &metadata); err != nil {
		return nil, errors.Join(ErrUnmarshalingMetadataFailed, err)
	}

	return metadata, nil
}
