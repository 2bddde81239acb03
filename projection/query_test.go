package projection_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mablae/pdo-event-store/eventstore"
	"github.com/mablae/pdo-event-store/eventstore/memoryengine"
	"github.com/mablae/pdo-event-store/projection"
	"github.com/mablae/pdo-event-store/testutil/fixtures"
)

func Test_FromStream_When_Counts_MatchingEvents(t *testing.T) {
	// arrange
	ctx := context.Background()
	es := memoryengine.NewEventStore()
	givenUserStream(t, es, "user-123", 50, 49)

	query := projection.NewQuery(es).
		Init(newCounterState).
		FromStream("user-123").
		When(map[string]projection.Handler{
			fixtures.UsernameChangedEventName: countingHandler,
		})

	// act
	err := query.Run(ctx)

	// assert
	require.NoError(t, err)
	assert.Equal(t, 49, query.State()["count"])

	// reset and run again must be observationally equal to a fresh query
	query.Reset()
	assert.Empty(t, query.State())

	require.NoError(t, query.Run(ctx))
	assert.Equal(t, 49, query.State()["count"])
}

func Test_FromStreams_WhenAny_Counts_AllEvents(t *testing.T) {
	ctx := context.Background()
	es := memoryengine.NewEventStore()
	givenUserStream(t, es, "user-123", 50, 49)
	givenUserStream(t, es, "user-234", 1, 0)

	query := projection.NewQuery(es).
		Init(newCounterState).
		FromStreams("user-123", "user-234").
		WhenAny(countingHandler)

	require.NoError(t, query.Run(ctx))

	assert.Equal(t, 100, query.State()["count"])
}

func Test_FromAll_Excludes_InternalStreams(t *testing.T) {
	ctx := context.Background()
	es := memoryengine.NewEventStore()
	givenUserStream(t, es, "user-123", 50, 49)
	givenUserStream(t, es, "user-234", 1, 0)
	givenUserStream(t, es, "$internal-345", 10, 0)

	query := projection.NewQuery(es).
		Init(newCounterState).
		FromAll().
		WhenAny(countingHandler)

	require.NoError(t, query.Run(ctx))

	assert.Equal(t, 100, query.State()["count"])
}

func Test_FromCategories_Selects_ByPrefix(t *testing.T) {
	ctx := context.Background()
	es := memoryengine.NewEventStore()
	givenUserStream(t, es, "user-123", 1, 2)
	givenUserStream(t, es, "user-234", 1, 1)
	givenUserStream(t, es, "guest-345", 1, 3)
	givenUserStream(t, es, "guest-456", 1, 0)
	givenUserStream(t, es, "visitor-1", 1, 0)

	query := projection.NewQuery(es).
		Init(newCounterState).
		FromCategories("user", "guest").
		When(map[string]projection.Handler{
			fixtures.UserCreatedEventName: countingHandler,
		})

	require.NoError(t, query.Run(ctx))

	assert.Equal(t, 4, query.State()["count"])
}

func Test_Run_Resumes_After_NewEvents(t *testing.T) {
	ctx := context.Background()
	es := memoryengine.NewEventStore()
	givenUserStream(t, es, "user-123", 0, 49)

	query := projection.NewQuery(es).
		Init(newCounterState).
		FromStream("user-123").
		When(map[string]projection.Handler{
			fixtures.UsernameChangedEventName: countingHandler,
		})

	require.NoError(t, query.Run(ctx))
	assert.Equal(t, 49, query.State()["count"])

	appendUsernameChanges(t, es, "user-123", 50, 50)

	require.NoError(t, query.Run(ctx))
	assert.Equal(t, 99, query.State()["count"])
}

func Test_Stop_Is_Cooperative(t *testing.T) {
	ctx := context.Background()
	es := memoryengine.NewEventStore()
	givenUserStream(t, es, "user-123", 0, 99)

	var query *projection.Query
	query = projection.NewQuery(es).
		Init(newCounterState).
		FromStream("user-123").
		WhenAny(func(state projection.State, event eventstore.EventEnvelope) (projection.State, error) {
			state["count"] = state["count"].(int) + 1
			if state["count"].(int) == 10 {
				query.Stop()
			}
			return state, nil
		})

	require.NoError(t, query.Run(ctx))
	assert.Equal(t, 10, query.State()["count"])

	// the next run resumes behind the last processed event
	require.NoError(t, query.Run(ctx))
	assert.Equal(t, 99, query.State()["count"])
}

func Test_HandlerFault_Aborts_TheRun_And_Reprocesses(t *testing.T) {
	ctx := context.Background()
	es := memoryengine.NewEventStore()
	givenUserStream(t, es, "user-123", 0, 5)

	handlerErr := errors.New("boom")
	failOn := 3

	query := projection.NewQuery(es).
		Init(newCounterState).
		FromStream("user-123").
		WhenAny(func(state projection.State, event eventstore.EventEnvelope) (projection.State, error) {
			next := state["count"].(int) + 1
			if next == failOn {
				return state, handlerErr
			}
			state["count"] = next
			return state, nil
		})

	err := query.Run(ctx)
	assert.ErrorIs(t, err, handlerErr)
	assert.Equal(t, 2, query.State()["count"])

	// the failing event is offered again on the next run
	failOn = -1
	require.NoError(t, query.Run(ctx))
	assert.Equal(t, 5, query.State()["count"])
}

func Test_When_Skips_UnknownEvents_But_AdvancesTheCursor(t *testing.T) {
	ctx := context.Background()
	es := memoryengine.NewEventStore()
	givenUserStream(t, es, "user-123", 3, 2)

	query := projection.NewQuery(es).
		Init(newCounterState).
		FromStream("user-123").
		When(map[string]projection.Handler{
			fixtures.UsernameChangedEventName: countingHandler,
		})

	require.NoError(t, query.Run(ctx))
	assert.Equal(t, 2, query.State()["count"])

	// nothing new: the cursor moved past the skipped events as well
	require.NoError(t, query.Run(ctx))
	assert.Equal(t, 2, query.State()["count"])
}

func Test_State_Is_EmptyMapping_Initially(t *testing.T) {
	query := projection.NewQuery(memoryengine.NewEventStore())

	assert.NotNil(t, query.State())
	assert.Empty(t, query.State())
}

func Test_Run_Requires_Configuration(t *testing.T) {
	ctx := context.Background()
	es := memoryengine.NewEventStore()

	t.Run("initial state factory", func(t *testing.T) {
		err := projection.NewQuery(es).FromAll().WhenAny(countingHandler).Run(ctx)
		assert.ErrorIs(t, err, projection.ErrNotInitialized)
	})

	t.Run("stream selector", func(t *testing.T) {
		err := projection.NewQuery(es).Init(newCounterState).WhenAny(countingHandler).Run(ctx)
		assert.ErrorIs(t, err, projection.ErrNoStreamsSelected)
	})

	t.Run("handlers", func(t *testing.T) {
		err := projection.NewQuery(es).Init(newCounterState).FromAll().Run(ctx)
		assert.ErrorIs(t, err, projection.ErrNoHandlersConfigured)
	})

	t.Run("only one selector", func(t *testing.T) {
		err := projection.NewQuery(es).
			Init(newCounterState).
			FromAll().
			FromStream("user-123").
			WhenAny(countingHandler).
			Run(ctx)
		assert.ErrorIs(t, err, projection.ErrSelectorAlreadySet)
	})

	t.Run("only one handler set", func(t *testing.T) {
		err := projection.NewQuery(es).
			Init(newCounterState).
			FromAll().
			WhenAny(countingHandler).
			WhenAny(countingHandler).
			Run(ctx)
		assert.ErrorIs(t, err, projection.ErrHandlersAlreadySet)
	})

	t.Run("only one init", func(t *testing.T) {
		err := projection.NewQuery(es).
			Init(newCounterState).
			Init(newCounterState).
			FromAll().
			WhenAny(countingHandler).
			Run(ctx)
		assert.ErrorIs(t, err, projection.ErrAlreadyInitialized)
	})
}

func Test_FromStream_AbsentStream_Fails(t *testing.T) {
	err := projection.NewQuery(memoryengine.NewEventStore()).
		Init(newCounterState).
		FromStream("user-123").
		WhenAny(countingHandler).
		Run(context.Background())

	assert.ErrorIs(t, err, eventstore.ErrStreamNotFound)
}

/***** helpers *****/

func newCounterState() projection.State {
	return projection.State{"count": 0}
}

func countingHandler(state projection.State, _ eventstore.EventEnvelope) (projection.State, error) {
	state["count"] = state["count"].(int) + 1
	return state, nil
}

// givenUserStream creates a stream with createdCount UserCreated events
// followed by changedCount UsernameChanged events.
func givenUserStream(t *testing.T, es *memoryengine.EventStore, name eventstore.StreamName, createdCount, changedCount int) {
	t.Helper()

	ctx := context.Background()
	fakeClock := time.Unix(0, 0).UTC()

	require.NoError(t, es.Create(ctx, eventstore.NewStream(name, nil)))

	userID := string(name)
	for i := 0; i < createdCount; i++ {
		fakeClock = fakeClock.Add(time.Second)
		require.NoError(t, es.AppendTo(ctx, name, fixtures.UserCreated(t, userID, fakeClock)))
	}

	appendUsernameChanges(t, es, name, 0, changedCount)
}

func appendUsernameChanges(t *testing.T, es *memoryengine.EventStore, name eventstore.StreamName, offset, count int) {
	t.Helper()

	ctx := context.Background()
	fakeClock := time.Unix(int64(offset), 0).UTC()

	for i := 0; i < count; i++ {
		fakeClock = fakeClock.Add(time.Second)
		require.NoError(t, es.AppendTo(ctx, name, fixtures.UsernameChanged(t, string(name), offset+i, fakeClock)))
	}
}
