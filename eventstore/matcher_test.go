package eventstore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mablae/pdo-event-store/eventstore"
)

func Test_NewMetadataMatcher_Accepts_ValidTerms(t *testing.T) {
	matcher, err := eventstore.NewMetadataMatcher(
		eventstore.MatchMetadata("tenant", eventstore.OpEquals, "acme"),
		eventstore.MatchMetadata("_aggregate_version", eventstore.OpGreaterThan, 5),
		eventstore.MatchMetadata("role", eventstore.OpIn, []any{"admin", "owner"}),
		eventstore.MatchMetadata("origin", eventstore.OpRegex, "^web-"),
		eventstore.MatchProperty(eventstore.PropertyEventName, eventstore.OpNotEquals, "Ignored"),
	)

	assert.NoError(t, err)
	assert.Len(t, matcher.Terms(), 5)
	assert.False(t, matcher.IsEmpty())
}

func Test_NewMetadataMatcher_ZeroValue_IsEmpty(t *testing.T) {
	var matcher eventstore.MetadataMatcher

	assert.True(t, matcher.IsEmpty())
	assert.Empty(t, matcher.Terms())
}

func Test_NewMetadataMatcher_Rejects_InvalidInput(t *testing.T) {
	testCases := []struct {
		name        string
		term        eventstore.MatchTerm
		expectedErr error
	}{
		{
			"field with quote",
			eventstore.MatchMetadata(`ten'ant`, eventstore.OpEquals, "x"),
			eventstore.ErrInvalidMatcherField,
		},
		{
			"field with space",
			eventstore.MatchMetadata("ten ant", eventstore.OpEquals, "x"),
			eventstore.ErrInvalidMatcherField,
		},
		{
			"empty field",
			eventstore.MatchMetadata("", eventstore.OpEquals, "x"),
			eventstore.ErrInvalidMatcherField,
		},
		{
			"unknown operator",
			eventstore.MatchMetadata("tenant", eventstore.Operator("LIKE"), "x"),
			eventstore.ErrInvalidMatcherOperator,
		},
		{
			"in with scalar value",
			eventstore.MatchMetadata("tenant", eventstore.OpIn, "x"),
			eventstore.ErrInvalidMatcherValue,
		},
		{
			"regex with non-string value",
			eventstore.MatchMetadata("tenant", eventstore.OpRegex, 42),
			eventstore.ErrInvalidMatcherValue,
		},
		{
			"regex with broken pattern",
			eventstore.MatchMetadata("tenant", eventstore.OpRegex, "("),
			eventstore.ErrInvalidMatcherValue,
		},
		{
			"nil value for comparison",
			eventstore.MatchMetadata("tenant", eventstore.OpEquals, nil),
			eventstore.ErrInvalidMatcherValue,
		},
		{
			"unknown message property",
			eventstore.MatchProperty("payload", eventstore.OpEquals, "x"),
			eventstore.ErrInvalidMessageProperty,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := eventstore.NewMetadataMatcher(tc.term)
			assert.ErrorIs(t, err, tc.expectedErr)
		})
	}
}

func Test_TermValues_Normalizes_Slices(t *testing.T) {
	term := eventstore.MatchMetadata("role", eventstore.OpIn, []string{"admin", "owner"})

	assert.Equal(t, []any{"admin", "owner"}, eventstore.TermValues(term))
}

func Test_TermValues_Wraps_Scalars(t *testing.T) {
	term := eventstore.MatchMetadata("tenant", eventstore.OpEquals, "acme")

	assert.Equal(t, []any{"acme"}, eventstore.TermValues(term))
}
