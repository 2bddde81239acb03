package sqlengine

import (
	"context"
	"errors"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"

	"github.com/mablae/pdo-event-store/eventstore"
	"github.com/mablae/pdo-event-store/eventstore/sqlengine/internal/adapters"
	"github.com/mablae/pdo-event-store/eventstore/strategy"
)

// streamIterator is the cursor behind Load and LoadReverse. It pages rows
// from the database into envelopes: when the current page is exhausted, the
// SELECT is re-issued with the position bound moved past the last seen row,
// until either the requested count is produced or a page comes back short.
//
// Forward iteration uses `no >= from ORDER BY no ASC`, reverse iteration
// `no <= from ORDER BY no DESC`; the strictly moving bound guarantees no
// duplicates across pages.
type streamIterator struct {
	ctx        context.Context
	db         adapters.DBAdapter
	dialect    string
	tableName  string
	conditions []strategy.MatcherCondition
	forward    bool
	batchSize  uint64
	logger     Logger

	nextNo    uint64 // position bound for the next page
	remaining uint64 // events still to produce, meaningful when bounded
	bounded   bool

	rows      adapters.DBRows
	pageLimit uint64
	pageRead  uint64
	current   eventstore.EventEnvelope
	err       error
	done      bool
}

type streamIteratorConfig struct {
	ctx        context.Context
	db         adapters.DBAdapter
	dialect    string
	tableName  string
	conditions []strategy.MatcherCondition
	forward    bool
	fromNo     uint64
	count      uint64
	batchSize  uint64
	logger     Logger
}

func newStreamIterator(cfg streamIteratorConfig) *streamIterator {
	return &streamIterator{
		ctx:        cfg.ctx,
		db:         cfg.db,
		dialect:    cfg.dialect,
		tableName:  cfg.tableName,
		conditions: cfg.conditions,
		forward:    cfg.forward,
		batchSize:  cfg.batchSize,
		logger:     cfg.logger,
		nextNo:     cfg.fromNo,
		remaining:  cfg.count,
		bounded:    cfg.count > 0,
	}
}

func (it *streamIterator) Next() bool {
	if it.done || it.err != nil {
		return false
	}

	for {
		if it.rows == nil {
			if !it.openPage() {
				return false
			}
		}

		if it.rows.Next() {
			if scanErr := it.scanCurrent(); scanErr != nil {
				it.err = scanErr
				it.finish()

				return false
			}

			it.pageRead++
			it.advanceBound()

			if it.bounded {
				it.remaining--
			}

			return true
		}

		// page exhausted; a short page means the table holds no further
		// matching rows in this direction
		shortPage := it.pageRead < it.pageLimit
		it.closeRows()

		if shortPage {
			it.finish()
			return false
		}
	}
}

func (it *streamIterator) Event() eventstore.EventEnvelope {
	return it.current
}

func (it *streamIterator) Err() error {
	return it.err
}

func (it *streamIterator) Close() error {
	it.finish()
	return nil
}

// openPage issues the SELECT for the next page. It reports false when the
// iterator terminated instead (count reached, underflow, or failure).
func (it *streamIterator) openPage() bool {
	if it.bounded && it.remaining == 0 {
		it.finish()
		return false
	}

	if !it.forward && it.nextNo == 0 {
		it.finish()
		return false
	}

	limit := it.batchSize
	if it.bounded && it.remaining < limit {
		limit = it.remaining
	}

	sqlQuery, args, buildErr := it.buildPageQuery(limit)
	if buildErr != nil {
		it.err = errors.Join(eventstore.ErrBuildingQueryFailed, buildErr)
		it.finish()

		return false
	}

	start := nowFunc()
	rows, queryErr := it.db.Query(it.ctx, sqlQuery, args...)
	it.logPageQuery(sqlQuery, nowFunc().Sub(start))

	if queryErr != nil {
		it.err = errors.Join(eventstore.ErrQueryingEventsFailed, queryErr)
		it.finish()

		return false
	}

	it.rows = rows
	it.pageLimit = limit
	it.pageRead = 0

	return true
}

func (it *streamIterator) buildPageQuery(limit uint64) (string, []any, error) {
	selectStmt := goqu.Dialect(it.dialect).
		From(it.tableName).
		Prepared(true).
		Select(selectExpressions(it.dialect)...).
		Limit(uint(limit))

	if it.forward {
		selectStmt = selectStmt.
			Where(goqu.C(strategy.ColNo).Gte(it.nextNo)).
			Order(goqu.C(strategy.ColNo).Asc())
	} else {
		selectStmt = selectStmt.
			Where(goqu.C(strategy.ColNo).Lte(it.nextNo)).
			Order(goqu.C(strategy.ColNo).Desc())
	}

	for _, condition := range it.conditions {
		selectStmt = selectStmt.Where(goqu.L(condition.SQL, condition.Args...))
	}

	return selectStmt.ToSQL()
}

func (it *streamIterator) scanCurrent() error {
	var no int64
	var eventID, eventName string
	var payloadJSON, metadataJSON []byte
	var createdAt createdAtColumn

	if scanErr := it.rows.Scan(&no, &eventID, &eventName, &payloadJSON, &metadataJSON, &createdAt); scanErr != nil {
		return errors.Join(eventstore.ErrScanningDBRowFailed, scanErr)
	}

	parsedID, parseErr := uuid.Parse(eventID)
	if parseErr != nil {
		return errors.Join(eventstore.ErrScanningDBRowFailed, parseErr)
	}

	payload, payloadErr := eventstore.UnmarshalPayloadJSON(payloadJSON)
	if payloadErr != nil {
		return payloadErr
	}

	metadata, metadataErr := eventstore.UnmarshalMetadataJSON(metadataJSON)
	if metadataErr != nil {
		return metadataErr
	}

	envelope, buildErr := eventstore.BuildEventEnvelope(parsedID, eventName, payload, metadata, createdAt.t)
	if buildErr != nil {
		return errors.Join(eventstore.ErrScanningDBRowFailed, buildErr)
	}

	it.current = envelope.WithNo(uint64(no))

	return nil
}

func (it *streamIterator) advanceBound() {
	if it.forward {
		it.nextNo = it.current.No + 1
		return
	}

	it.nextNo = it.current.No - 1
}

func (it *streamIterator) closeRows() {
	if it.rows == nil {
		return
	}

	if closeErr := it.rows.Close(); closeErr != nil && it.logger != nil {
		it.logger.Warn("failed to close database rows", "error", closeErr.Error())
	}

	it.rows = nil
}

func (it *streamIterator) finish() {
	it.closeRows()
	it.done = true
}

func (it *streamIterator) logPageQuery(sqlQuery string, duration time.Duration) {
	if it.logger != nil {
		it.logger.Debug("executed sql for: load page", logAttrDurationMS, toMilliseconds(duration), "query", sqlQuery)
	}
}

// selectExpressions returns the SELECT column list for event rows. Postgres
// stores event ids in a UUID column which is cast to text for scanning.
func selectExpressions(dialect string) []any {
	eventID := any(goqu.C(strategy.ColEventID))
	if dialect == strategy.DialectPostgres {
		eventID = goqu.L("event_id::text").As(strategy.ColEventID)
	}

	return []any{
		goqu.C(strategy.ColNo),
		eventID,
		goqu.C(strategy.ColEventName),
		goqu.C(strategy.ColPayload),
		goqu.C(strategy.ColMetadata),
		goqu.C(strategy.ColCreatedAt),
	}
}

// createdAtColumn scans the created_at column from either a native timestamp
// or its 26-character textual form.
type createdAtColumn struct {
	t time.Time
}

func (c *createdAtColumn) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		c.t = v.UTC()
		return nil
	case []byte:
		return c.parse(string(v))
	case string:
		return c.parse(v)
	default:
		return errors.Join(eventstore.ErrScanningDBRowFailed, errors.New("unsupported created_at column type"))
	}
}

func (c *createdAtColumn) parse(value string) error {
	for _, layout := range []string{eventstore.CreatedAtFormat, "2006-01-02 15:04:05.000000"} {
		if t, parseErr := time.Parse(layout, value); parseErr == nil {
			c.t = t.UTC()
			return nil
		}
	}

	return errors.Join(eventstore.ErrScanningDBRowFailed, errors.New("unparsable created_at value: "+value))
}
