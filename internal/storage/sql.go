package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "modernc.org/sqlite"             // pure go sqlite driver

	"github.com/peteski22/crmresolve/internal/crm"
)

const (
	// DriverPostgres is the database/sql driver name for Postgres via pgx.
	DriverPostgres = "pgx"

	// DriverSQLite is the database/sql driver name for SQLite.
	DriverSQLite = "sqlite"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// dialect holds the SQL differences between supported drivers.
type dialect struct {
	// fieldExpr returns an expression selecting a field from the JSON payload.
	fieldExpr func(field string) string

	// placeholder returns the bind parameter for the n-th argument, starting at 1.
	placeholder func(n int) string

	// schema creates the records table.
	schema string
}

var dialects = map[string]dialect{
	DriverPostgres: {
		fieldExpr: func(field string) string {
			return "(payload::jsonb ->> '" + field + "')"
		},
		placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
		schema: `CREATE TABLE IF NOT EXISTS crm_records (
			seq BIGSERIAL PRIMARY KEY,
			object_type TEXT NOT NULL,
			id TEXT NOT NULL,
			payload TEXT NOT NULL,
			UNIQUE (object_type, id)
		)`,
	},
	DriverSQLite: {
		fieldExpr: func(field string) string {
			return "json_extract(payload, '$." + field + "')"
		},
		placeholder: func(int) string { return "?" },
		schema: `CREATE TABLE IF NOT EXISTS crm_records (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			object_type TEXT NOT NULL,
			id TEXT NOT NULL,
			payload TEXT NOT NULL,
			UNIQUE (object_type, id)
		)`,
	},
}

// SQLStore keeps CRM records as JSON payloads in a single SQL table.
// Records are returned in insertion order.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	newID   func() string
}

// OpenSQLStore opens the database with the given driver and DSN and ensures the records table exists.
func OpenSQLStore(ctx context.Context, driver string, dsn string) (*SQLStore, error) {
	if dsn == "" {
		return nil, errors.New("DSN is required")
	}
	if _, ok := dialects[driver]; !ok {
		return nil, fmt.Errorf("unsupported SQL driver %q", driver)
	}

	openMu.Lock()
	db, err := sqlOpen(driver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging %s: %w", driver, err)
	}

	store, err := NewSQLStore(ctx, db, driver)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// NewSQLStore creates a record store on an open database and ensures the records table exists.
func NewSQLStore(ctx context.Context, db *sql.DB, driver string) (*SQLStore, error) {
	if db == nil {
		return nil, errors.New("database is required")
	}
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported SQL driver %q", driver)
	}

	if _, err := db.ExecContext(ctx, d.schema); err != nil {
		return nil, fmt.Errorf("creating records table: %w", err)
	}

	return &SQLStore{db: db, dialect: d, newID: uuid.NewString}, nil
}

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Find returns the records whose field equals one of the query values.
func (s *SQLStore) Find(ctx context.Context, q crm.Query) ([]crm.Record, error) {
	query, args, err := s.selectQuery(q)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []crm.Record
	for rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		r, err := decodeRecord(q.Object, id, []byte(payload))
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading records: %w", err)
	}

	return records, nil
}

// selectQuery builds the SELECT statement and arguments for a query.
func (s *SQLStore) selectQuery(q crm.Query) (string, []any, error) {
	if err := q.Validate(); err != nil {
		return "", nil, fmt.Errorf("invalid query: %w", err)
	}

	args := []any{string(q.Object)}

	var b strings.Builder
	b.WriteString("SELECT id, payload FROM crm_records WHERE object_type = ")
	b.WriteString(s.dialect.placeholder(1))

	// An empty Field selects every record of the object type.
	if q.Field != "" {
		column := "id"
		if q.Field != crm.FieldID {
			column = s.dialect.fieldExpr(q.Field)
		}

		placeholders := make([]string, len(q.Values))
		for i, v := range q.Values {
			args = append(args, v)
			placeholders[i] = s.dialect.placeholder(len(args))
		}

		b.WriteString(" AND ")
		b.WriteString(column)
		b.WriteString(" IN (")
		b.WriteString(strings.Join(placeholders, ", "))
		b.WriteString(")")
	}

	b.WriteString(" ORDER BY seq")
	if q.Limit > 0 {
		b.WriteString(" LIMIT ")
		b.WriteString(strconv.Itoa(q.Limit))
	}

	return b.String(), args, nil
}

// Insert stores each record under a new ID and assigns the ID to records written successfully.
func (s *SQLStore) Insert(ctx context.Context, records []crm.Record) error {
	result := newBatchResult("insert", len(records))
	for i, r := range records {
		s.insertOne(ctx, result, i, r)
	}
	return result.err()
}

// Update overwrites existing records. Records without an ID or not in the table fail.
func (s *SQLStore) Update(ctx context.Context, records []crm.Record) error {
	result := newBatchResult("update", len(records))
	for i, r := range records {
		s.updateOne(ctx, result, i, r)
	}
	return result.err()
}

// Upsert inserts records without an ID and updates the rest.
// Failure indexes count inserts first, then updates.
func (s *SQLStore) Upsert(ctx context.Context, records []crm.Record) error {
	inserts, updates := splitByID(records)

	result := newBatchResult("upsert", len(records))
	for i, r := range inserts {
		s.insertOne(ctx, result, i, r)
	}
	for i, r := range updates {
		s.updateOne(ctx, result, len(inserts)+i, r)
	}
	return result.err()
}

// Delete removes records by ID. Deleting an ID that does not exist is not an error.
func (s *SQLStore) Delete(ctx context.Context, object crm.ObjectType, ids []string) error {
	p := s.dialect.placeholder
	stmt := "DELETE FROM crm_records WHERE object_type = " + p(1) + " AND id = " + p(2)

	result := newBatchResult("delete", len(ids))
	for i, id := range ids {
		if _, err := s.db.ExecContext(ctx, stmt, string(object), id); err != nil {
			result.fail(i, id, "", fmt.Errorf("deleting record: %w", err))
		}
	}
	return result.err()
}

func (s *SQLStore) insertOne(ctx context.Context, result *batchResult, index int, r crm.Record) {
	enc, err := encodeRecord(r)
	if err != nil {
		result.fail(index, "", "", err)
		return
	}

	p := s.dialect.placeholder
	stmt := "INSERT INTO crm_records (object_type, id, payload) VALUES (" + p(1) + ", " + p(2) + ", " + p(3) + ")"

	id := s.newID()
	if _, err := s.db.ExecContext(ctx, stmt, string(r.ObjectType()), id, string(enc.payload)); err != nil {
		result.fail(index, "", "", fmt.Errorf("inserting record: %w", err))
		return
	}
	r.SetRecordID(id)
}

func (s *SQLStore) updateOne(ctx context.Context, result *batchResult, index int, r crm.Record) {
	id := r.RecordID()
	if id == "" {
		result.fail(index, "", "MISSING_ID", errors.New("record has no ID"))
		return
	}

	enc, err := encodeRecord(r)
	if err != nil {
		result.fail(index, id, "", err)
		return
	}

	p := s.dialect.placeholder
	stmt := "UPDATE crm_records SET payload = " + p(1) + " WHERE object_type = " + p(2) + " AND id = " + p(3)

	res, err := s.db.ExecContext(ctx, stmt, string(enc.payload), string(r.ObjectType()), id)
	if err != nil {
		result.fail(index, id, "", fmt.Errorf("updating record: %w", err))
		return
	}

	n, err := res.RowsAffected()
	if err != nil {
		result.fail(index, id, "", fmt.Errorf("updating record: %w", err))
		return
	}
	if n == 0 {
		result.fail(index, id, "NOT_FOUND", fmt.Errorf("%s %s not found", r.ObjectType(), id))
	}
}
