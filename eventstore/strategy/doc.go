// Package strategy provides the dialect and table-layout policies the SQL
// engine is parameterized with.
//
// A PersistenceStrategy owns everything that differs between database dialects
// and physical layouts: the DDL for a stream's table, the insert column list,
// the flattening of event envelopes into positional statement parameters, the
// SQLSTATE codes that signal a concurrency conflict, the derivation of
// physical table names, and the translation of metadata matchers into SQL
// fragments with bound values.
//
// Four concrete strategies are provided, Postgres and MySQL each in a
// single-stream and an aggregate-stream flavor:
//
//   - NewPostgresSingleStreamStrategy
//   - NewPostgresAggregateStreamStrategy
//   - NewMySQLSingleStreamStrategy
//   - NewMySQLAggregateStreamStrategy
//
// Single-stream tables hold events of arbitrary aggregates and enforce one
// append per aggregate version through a unique index over the aggregate
// metadata. Aggregate-stream tables hold exactly one aggregate instance and
// write the "_aggregate_version" metadata entry directly into the position
// column, enforcing contiguous version numbering.
package strategy
