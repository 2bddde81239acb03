// Package projection provides the query engine that folds persisted event
// streams into user state.
//
// A Query is configured through a builder: an initial-state factory, exactly
// one stream selector, and exactly one handler set. Run drives the fold to
// completion, remembering per-stream cursor positions so that a later Run
// resumes where the previous one stopped. Stop requests a cooperative stop
// that takes effect between events; Reset drops state and cursors.
//
//	query := projection.NewQuery(store).
//		Init(func() projection.State { return projection.State{"count": 0} }).
//		FromStream("user-123").
//		When(map[string]projection.Handler{
//			"UsernameChanged": func(state projection.State, event eventstore.EventEnvelope) (projection.State, error) {
//				state["count"] = state["count"].(int) + 1
//				return state, nil
//			},
//		})
//
//	if err := query.Run(ctx); err != nil {
//		// handle error
//	}
//	count := query.State()["count"]
//
// The engine is single-threaded and cooperative: handlers run on the calling
// goroutine and the only suspension point is a handler returning.
package projection
