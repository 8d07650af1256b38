package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcambel/kinesis2/internal/lib/logger/handlers/slogdiscard"
	"github.com/bcambel/kinesis2/internal/model"
)

const rowArgs = 14

// eventsDB fakes the events table behind database/sql, so SaveEvents
// can be driven through the bulk insert and its conflict fallback
// without a live postgres. A statement with more than one row of
// parameters is the bulk path; 23505 behaves like the real primary key:
// a bulk insert touching any persisted id fails wholesale, a per-row
// insert fails only for its own id.
type eventsDB struct {
	existing map[string]struct{}
	inserted []string

	bulkCalls int
	rowCalls  int

	execErr error            // storage-level outage, returned for every exec
	rowErr  map[string]error // per-id error on the per-row path
}

func newEventsDB(existing ...string) *eventsDB {
	db := &eventsDB{existing: make(map[string]struct{})}
	for _, id := range existing {
		db.existing[id] = struct{}{}
	}

	return db
}

func (db *eventsDB) exec(args []driver.NamedValue) (driver.Result, error) {
	if db.execErr != nil {
		return nil, db.execErr
	}

	if len(args) > rowArgs {
		db.bulkCalls++

		for i := 0; i < len(args); i += rowArgs {
			id := args[i].Value.(string)
			if _, ok := db.existing[id]; ok {
				return nil, &pq.Error{Code: "23505", Constraint: "events_pkey"}
			}
		}
		for i := 0; i < len(args); i += rowArgs {
			db.insert(args[i].Value.(string))
		}

		return driver.RowsAffected(int64(len(args) / rowArgs)), nil
	}

	db.rowCalls++

	id := args[0].Value.(string)
	if err := db.rowErr[id]; err != nil {
		return nil, err
	}
	if _, ok := db.existing[id]; ok {
		return nil, &pq.Error{Code: "23505", Constraint: "events_pkey"}
	}
	db.insert(id)

	return driver.RowsAffected(1), nil
}

func (db *eventsDB) insert(id string) {
	db.existing[id] = struct{}{}
	db.inserted = append(db.inserted, id)
}

type eventsConnector struct{ db *eventsDB }

func (c eventsConnector) Connect(context.Context) (driver.Conn, error) {
	return eventsConn{db: c.db}, nil
}

func (c eventsConnector) Driver() driver.Driver { return eventsDriver{db: c.db} }

type eventsDriver struct{ db *eventsDB }

func (d eventsDriver) Open(string) (driver.Conn, error) { return eventsConn{db: d.db}, nil }

type eventsConn struct{ db *eventsDB }

var _ driver.ExecerContext = eventsConn{}

func (eventsConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("prepare not supported")
}

func (eventsConn) Close() error { return nil }

func (eventsConn) Begin() (driver.Tx, error) { return noopTx{}, nil }

func (c eventsConn) ExecContext(_ context.Context, _ string, args []driver.NamedValue) (driver.Result, error) {
	return c.db.exec(args)
}

type noopTx struct{}

func (noopTx) Commit() error   { return nil }
func (noopTx) Rollback() error { return nil }

func newTestStorage(db *eventsDB) *Storage {
	return &Storage{
		DB:  sql.OpenDB(eventsConnector{db: db}),
		log: slogdiscard.NewDiscardLogger(),
	}
}

func testEvents(ids ...string) []model.Event {
	events := make([]model.Event, 0, len(ids))
	for _, id := range ids {
		events = append(events, model.Event{
			ID:         id,
			ReceivedAt: "2024-05-01 10:30:00",
			EvtType:    "pv",
		})
	}

	return events
}

func TestSaveEvents_BulkHappyPath(t *testing.T) {
	db := newEventsDB()
	s := newTestStorage(db)

	err := s.SaveEvents(context.Background(), testEvents("seq-0", "seq-1", "seq-2"))
	require.NoError(t, err)

	assert.Equal(t, []string{"seq-0", "seq-1", "seq-2"}, db.inserted)
	assert.Equal(t, 1, db.bulkCalls)
	assert.Equal(t, 0, db.rowCalls)
}

func TestSaveEvents_ConflictAbsorption(t *testing.T) {
	// seq-1 was already persisted by an earlier delivery
	db := newEventsDB("seq-1")
	s := newTestStorage(db)

	err := s.SaveEvents(context.Background(), testEvents("seq-0", "seq-1", "seq-2"))
	require.NoError(t, err)

	// the duplicate is skipped, everything else still lands
	assert.Equal(t, []string{"seq-0", "seq-2"}, db.inserted)
	assert.Equal(t, 1, db.bulkCalls)
	assert.Equal(t, 3, db.rowCalls)
}

func TestSaveEvents_RewriteIsNoop(t *testing.T) {
	db := newEventsDB()
	s := newTestStorage(db)

	batch := testEvents("seq-0", "seq-1", "seq-2")

	require.NoError(t, s.SaveEvents(context.Background(), batch))
	require.Len(t, db.inserted, 3)

	// redelivery of the whole batch must not raise and must not write
	require.NoError(t, s.SaveEvents(context.Background(), batch))
	assert.Len(t, db.inserted, 3)
}

func TestSaveEvents_HardFailure(t *testing.T) {
	db := newEventsDB()
	db.execErr = errors.New("connection refused")
	s := newTestStorage(db)

	err := s.SaveEvents(context.Background(), testEvents("seq-0", "seq-1"))
	require.Error(t, err)

	// a non-conflict error must not trigger the per-row fallback
	assert.Equal(t, 0, db.rowCalls)
	assert.Empty(t, db.inserted)
}

func TestSaveEvents_RowHardFailureAborts(t *testing.T) {
	db := newEventsDB("seq-0")
	db.rowErr = map[string]error{
		"seq-2": &pq.Error{Code: "23502"},
	}
	s := newTestStorage(db)

	err := s.SaveEvents(context.Background(), testEvents("seq-0", "seq-1", "seq-2"))
	require.Error(t, err)

	// the duplicate was absorbed, the non-conflict row error was not
	assert.Equal(t, []string{"seq-1"}, db.inserted)
}

func TestSaveEvents_EmptyBatch(t *testing.T) {
	db := newEventsDB()
	s := newTestStorage(db)

	require.NoError(t, s.SaveEvents(context.Background(), nil))
	assert.Equal(t, 0, db.bulkCalls)
}
