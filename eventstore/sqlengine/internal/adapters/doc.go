// Package adapters provides database abstraction layers for the SQL engine.
//
// It defines the DBAdapter interface and implementations for the supported
// connection types: pgxpool.Pool, database/sql and sqlx. The adapters unify
// query execution, parameter binding and transaction handling, so the engine
// itself stays free of driver specifics.
//
// An adapter routes statements through its open transaction while one is
// started; at most one transaction per adapter may be open.
package adapters
