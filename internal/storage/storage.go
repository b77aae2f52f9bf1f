// Package storage persists JSON documents by collection and id on top of
// database/sql. SQLite (modernc.org/sqlite) and PostgreSQL (pgx) are
// supported.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("storage: not found")

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

const schema = `CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	body       TEXT NOT NULL,
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL,
	PRIMARY KEY (collection, id)
)`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is a document store. Methods called on the Store run outside any
// transaction; use Tx for multi-document changes.
type Store struct {
	db     *sql.DB
	driver string
	now    func() time.Time
}

// Open connects to dsn with the given driver and creates the schema.
// For SQLite, dsn is a file path (or ":memory:").
func Open(driver, dsn string) (*Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("storage dsn is required")
	}
	switch driver {
	case DriverSQLite:
		if dsn != ":memory:" && !strings.Contains(dsn, "?") {
			dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
		}
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// One writer at a time; also keeps :memory: to a single database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db, driver: driver, now: time.Now}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Put(ctx context.Context, collection, id string, body []byte) error {
	return put(ctx, s.db, s.driver, s.now(), collection, id, body)
}

func (s *Store) Get(ctx context.Context, collection, id string) ([]byte, error) {
	return get(ctx, s.db, s.driver, collection, id)
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	return del(ctx, s.db, s.driver, collection, id)
}

// List returns every document in collection in creation order.
func (s *Store) List(ctx context.Context, collection string) ([][]byte, error) {
	return list(ctx, s.db, s.driver, collection)
}

// Tx is a transaction-scoped view of the store.
type Tx struct {
	tx     *sql.Tx
	driver string
	now    time.Time
}

func (t *Tx) Put(ctx context.Context, collection, id string, body []byte) error {
	return put(ctx, t.tx, t.driver, t.now, collection, id, body)
}

func (t *Tx) Get(ctx context.Context, collection, id string) ([]byte, error) {
	return get(ctx, t.tx, t.driver, collection, id)
}

func (t *Tx) Delete(ctx context.Context, collection, id string) error {
	return del(ctx, t.tx, t.driver, collection, id)
}

func (t *Tx) List(ctx context.Context, collection string) ([][]byte, error) {
	return list(ctx, t.tx, t.driver, collection)
}

// InTx runs fn in a transaction, committing when fn returns nil.
func (s *Store) InTx(ctx context.Context, fn func(*Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(&Tx{tx: sqlTx, driver: s.driver, now: s.now()}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func put(ctx context.Context, db execer, driver string, now time.Time, collection, id string, body []byte) error {
	if collection == "" || id == "" {
		return fmt.Errorf("collection and id are required")
	}
	ts := now.UnixNano()
	_, err := db.ExecContext(ctx, rebind(driver,
		`INSERT INTO documents (collection, id, body, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (collection, id) DO UPDATE SET
		    body = excluded.body,
		    updated_at = excluded.updated_at`),
		collection, id, string(body), ts, ts)
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", collection, id, err)
	}
	return nil
}

func get(ctx context.Context, db execer, driver, collection, id string) ([]byte, error) {
	var body string
	err := db.QueryRowContext(ctx, rebind(driver,
		`SELECT body FROM documents WHERE collection = ? AND id = ?`), collection, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return []byte(body), nil
}

func del(ctx context.Context, db execer, driver, collection, id string) error {
	res, err := db.ExecContext(ctx, rebind(driver,
		`DELETE FROM documents WHERE collection = ? AND id = ?`), collection, id)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	return nil
}

func list(ctx context.Context, db execer, driver, collection string) ([][]byte, error) {
	rows, err := db.QueryContext(ctx, rebind(driver,
		`SELECT body FROM documents WHERE collection = ? ORDER BY created_at, id`), collection)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	defer func() { _ = rows.Close() }()

	var out [][]byte
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan %s: %w", collection, err)
		}
		out = append(out, []byte(body))
	}
	return out, rows.Err()
}

// rebind rewrites ? placeholders as $n for PostgreSQL.
func rebind(driver, query string) string {
	if driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Documents is satisfied by both Store and Tx.
type Documents interface {
	Put(ctx context.Context, collection, id string, body []byte) error
	Get(ctx context.Context, collection, id string) ([]byte, error)
	Delete(ctx context.Context, collection, id string) error
	List(ctx context.Context, collection string) ([][]byte, error)
}

// PutJSON encodes v and stores it.
func PutJSON(ctx context.Context, d Documents, collection, id string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", collection, id, err)
	}
	return d.Put(ctx, collection, id, body)
}

// GetJSON loads and decodes one document.
func GetJSON[T any](ctx context.Context, d Documents, collection, id string) (T, error) {
	var v T
	body, err := d.Get(ctx, collection, id)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(body, &v); err != nil {
		return v, fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	return v, nil
}

// ListJSON loads and decodes a whole collection. The result is never nil.
func ListJSON[T any](ctx context.Context, d Documents, collection string) ([]T, error) {
	bodies, err := d.List(ctx, collection)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(bodies))
	for _, b := range bodies {
		var v T
		if err := json.Unmarshal(b, &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", collection, err)
		}
		out = append(out, v)
	}
	return out, nil
}
