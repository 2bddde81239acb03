// Package sqlengine implements the relational persistence engine of the
// event store for Postgres and MySQL.
//
// The engine is constructed from one of the supported connection types and a
// persistence strategy which owns everything dialect- and layout-specific:
//
//	pool, _ := pgxpool.New(ctx, dsn)
//	store, err := sqlengine.NewEventStoreFromPGXPool(pool,
//		sqlengine.WithPersistenceStrategy(strategy.NewPostgresSingleStreamStrategy()),
//		sqlengine.WithLoadBatchSize(1000),
//	)
//
// Queries, inserts, updates and deletes are built with goqu and executed with
// bound parameters; DDL statements come as ready strings from the strategy.
// Physical table names are derived from the sha1 of the stream name. The
// registry table name comes from the WithEventStreamsTable option, which
// rejects an empty name and applies no further character check.
//
// Reads return a Stream whose Events iterator pages rows lazily in
// loadBatchSize chunks; writes go through a single multi-row INSERT whose
// unique-constraint violations are mapped onto ErrConcurrencyConflict.
package sqlengine
