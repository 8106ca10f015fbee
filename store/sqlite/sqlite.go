// Package sqlite persists object snapshots in SQLite.
//
// The store is a plain data access layer. Save replaces the whole
// snapshot for a path inside one transaction; reads run in
// autocommit mode. The database is opened in WAL mode so a reader
// never blocks the writer.
//
// All SQL runs through prepared statements: the queries are parsed
// and planned once at open time rather than per call.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/frobware/go-bpfobj/store"
)

//go:embed schema.sql
var schemaSQL string

// msec formats a duration as milliseconds with 3 decimal places.
func msec(d time.Duration) string {
	return fmt.Sprintf("%.3f", float64(d.Microseconds())/1000)
}

// sqliteStore implements store.Store using SQLite.
type sqliteStore struct {
	db     *sql.DB
	logger *slog.Logger

	stmtSaveObject     *sql.Stmt
	stmtGetObject      *sql.Stmt
	stmtListObjects    *sql.Stmt
	stmtDeleteObject   *sql.Stmt
	stmtInsertMap      *sql.Stmt
	stmtListMaps       *sql.Stmt
	stmtInsertProgram  *sql.Stmt
	stmtListPrograms   *sql.Stmt
	stmtDeleteMaps     *sql.Stmt
	stmtDeletePrograms *sql.Stmt
}

// New creates a SQLite store at dbPath, creating parent directories
// as needed.
func New(ctx context.Context, dbPath string, logger *slog.Logger) (store.Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store", "db", dbPath)

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open(driverName, dsn(dbPath, [][2]string{{"journal_mode", "WAL"}, {"foreign_keys", "1"}}))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return newStore(ctx, db, logger)
}

// NewInMemory creates an in-memory SQLite store for testing.
func NewInMemory(ctx context.Context, logger *slog.Logger) (store.Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store", "db", ":memory:")

	db, err := sql.Open(driverName, dsn(":memory:", [][2]string{{"foreign_keys", "1"}}))
	if err != nil {
		return nil, fmt.Errorf("open in-memory database: %w", err)
	}
	return newStore(ctx, db, logger)
}

func newStore(ctx context.Context, db *sql.DB, logger *slog.Logger) (store.Store, error) {
	s := &sqliteStore{db: db, logger: logger}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	if err := s.prepareStatements(); err != nil {
		s.closeStatements()
		db.Close()
		return nil, fmt.Errorf("prepare statements: %w", err)
	}
	logger.Debug("opened database")
	return s, nil
}

func (s *sqliteStore) prepareStatements() error {
	var err error

	const sqlSaveObject = `
		INSERT INTO objects (path, pid, loaded_at)
		VALUES (?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
		  pid = excluded.pid,
		  loaded_at = excluded.loaded_at`
	if s.stmtSaveObject, err = s.db.Prepare(sqlSaveObject); err != nil {
		return fmt.Errorf("prepare SaveObject: %w", err)
	}

	const sqlGetObject = "SELECT path, pid, loaded_at FROM objects WHERE path = ?"
	if s.stmtGetObject, err = s.db.Prepare(sqlGetObject); err != nil {
		return fmt.Errorf("prepare GetObject: %w", err)
	}

	const sqlListObjects = "SELECT path, pid, loaded_at FROM objects ORDER BY path"
	if s.stmtListObjects, err = s.db.Prepare(sqlListObjects); err != nil {
		return fmt.Errorf("prepare ListObjects: %w", err)
	}

	const sqlDeleteObject = "DELETE FROM objects WHERE path = ?"
	if s.stmtDeleteObject, err = s.db.Prepare(sqlDeleteObject); err != nil {
		return fmt.Errorf("prepare DeleteObject: %w", err)
	}

	const sqlInsertMap = `
		INSERT INTO object_maps (object_path, name, type, key_size, value_size, max_entries)
		VALUES (?, ?, ?, ?, ?, ?)`
	if s.stmtInsertMap, err = s.db.Prepare(sqlInsertMap); err != nil {
		return fmt.Errorf("prepare InsertMap: %w", err)
	}

	const sqlListMaps = `
		SELECT name, type, key_size, value_size, max_entries
		FROM object_maps WHERE object_path = ? ORDER BY name`
	if s.stmtListMaps, err = s.db.Prepare(sqlListMaps); err != nil {
		return fmt.Errorf("prepare ListMaps: %w", err)
	}

	const sqlInsertProgram = `
		INSERT INTO object_programs (object_path, name, type)
		VALUES (?, ?, ?)`
	if s.stmtInsertProgram, err = s.db.Prepare(sqlInsertProgram); err != nil {
		return fmt.Errorf("prepare InsertProgram: %w", err)
	}

	const sqlListPrograms = "SELECT name, type FROM object_programs WHERE object_path = ? ORDER BY name"
	if s.stmtListPrograms, err = s.db.Prepare(sqlListPrograms); err != nil {
		return fmt.Errorf("prepare ListPrograms: %w", err)
	}

	const sqlDeleteMaps = "DELETE FROM object_maps WHERE object_path = ?"
	if s.stmtDeleteMaps, err = s.db.Prepare(sqlDeleteMaps); err != nil {
		return fmt.Errorf("prepare DeleteMaps: %w", err)
	}

	const sqlDeletePrograms = "DELETE FROM object_programs WHERE object_path = ?"
	if s.stmtDeletePrograms, err = s.db.Prepare(sqlDeletePrograms); err != nil {
		return fmt.Errorf("prepare DeletePrograms: %w", err)
	}

	return nil
}

func (s *sqliteStore) closeStatements() {
	stmts := []*sql.Stmt{
		s.stmtSaveObject,
		s.stmtGetObject,
		s.stmtListObjects,
		s.stmtDeleteObject,
		s.stmtInsertMap,
		s.stmtListMaps,
		s.stmtInsertProgram,
		s.stmtListPrograms,
		s.stmtDeleteMaps,
		s.stmtDeletePrograms,
	}
	for _, stmt := range stmts {
		if stmt != nil {
			stmt.Close()
		}
	}
}

// Save replaces the snapshot for rec.Path atomically.
func (s *sqliteStore) Save(ctx context.Context, rec store.ObjectRecord) error {
	start := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.StmtContext(ctx, s.stmtSaveObject).ExecContext(ctx,
		rec.Path, rec.PID, rec.LoadedAt.UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("save object %s: %w", rec.Path, err)
	}
	if _, err := tx.StmtContext(ctx, s.stmtDeleteMaps).ExecContext(ctx, rec.Path); err != nil {
		return fmt.Errorf("clear maps for %s: %w", rec.Path, err)
	}
	if _, err := tx.StmtContext(ctx, s.stmtDeletePrograms).ExecContext(ctx, rec.Path); err != nil {
		return fmt.Errorf("clear programs for %s: %w", rec.Path, err)
	}
	for _, m := range rec.Maps {
		if _, err := tx.StmtContext(ctx, s.stmtInsertMap).ExecContext(ctx,
			rec.Path, m.Name, m.Type, m.KeySize, m.ValueSize, m.MaxEntries); err != nil {
			return fmt.Errorf("save map %s of %s: %w", m.Name, rec.Path, err)
		}
	}
	for _, p := range rec.Programs {
		if _, err := tx.StmtContext(ctx, s.stmtInsertProgram).ExecContext(ctx,
			rec.Path, p.Name, p.Type); err != nil {
			return fmt.Errorf("save program %s of %s: %w", p.Name, rec.Path, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot for %s: %w", rec.Path, err)
	}

	s.logger.Debug("sql", "stmt", "Save", "path", rec.Path,
		"maps", len(rec.Maps), "programs", len(rec.Programs),
		"duration_ms", msec(time.Since(start)))
	return nil
}

// Get returns the snapshot for path.
// Returns store.ErrNotFound if no snapshot exists.
func (s *sqliteStore) Get(ctx context.Context, path string) (store.ObjectRecord, error) {
	start := time.Now()

	row := s.stmtGetObject.QueryRowContext(ctx, path)
	rec, err := scanObject(row)
	if errors.Is(err, sql.ErrNoRows) {
		s.logger.Debug("sql", "stmt", "GetObject", "path", path, "duration_ms", msec(time.Since(start)), "rows", 0)
		return store.ObjectRecord{}, fmt.Errorf("object %s: %w", path, store.ErrNotFound)
	}
	if err != nil {
		return store.ObjectRecord{}, err
	}

	if rec.Maps, err = s.listMaps(ctx, path); err != nil {
		return store.ObjectRecord{}, err
	}
	if rec.Programs, err = s.listPrograms(ctx, path); err != nil {
		return store.ObjectRecord{}, err
	}
	s.logger.Debug("sql", "stmt", "GetObject", "path", path, "duration_ms", msec(time.Since(start)), "rows", 1)
	return rec, nil
}

// List returns every snapshot, sorted by path.
func (s *sqliteStore) List(ctx context.Context) ([]store.ObjectRecord, error) {
	rows, err := s.stmtListObjects.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}
	defer rows.Close()

	var recs []store.ObjectRecord
	for rows.Next() {
		rec, err := scanObject(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}

	for i := range recs {
		if recs[i].Maps, err = s.listMaps(ctx, recs[i].Path); err != nil {
			return nil, err
		}
		if recs[i].Programs, err = s.listPrograms(ctx, recs[i].Path); err != nil {
			return nil, err
		}
	}
	return recs, nil
}

// Delete removes the snapshot for path. Deleting an unknown path is
// not an error.
func (s *sqliteStore) Delete(ctx context.Context, path string) error {
	start := time.Now()
	// ON DELETE CASCADE clears object_maps and object_programs.
	if _, err := s.stmtDeleteObject.ExecContext(ctx, path); err != nil {
		return fmt.Errorf("delete object %s: %w", path, err)
	}
	s.logger.Debug("sql", "stmt", "DeleteObject", "path", path, "duration_ms", msec(time.Since(start)))
	return nil
}

// Close closes all prepared statements and the database connection.
func (s *sqliteStore) Close() error {
	s.closeStatements()
	return s.db.Close()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanObject(row rowScanner) (store.ObjectRecord, error) {
	var rec store.ObjectRecord
	var loadedAt string
	if err := row.Scan(&rec.Path, &rec.PID, &loadedAt); err != nil {
		return store.ObjectRecord{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, loadedAt)
	if err != nil {
		return store.ObjectRecord{}, fmt.Errorf("parse loaded_at %q: %w", loadedAt, err)
	}
	rec.LoadedAt = t
	return rec, nil
}

func (s *sqliteStore) listMaps(ctx context.Context, path string) ([]store.MapRecord, error) {
	rows, err := s.stmtListMaps.QueryContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("list maps for %s: %w", path, err)
	}
	defer rows.Close()

	var maps []store.MapRecord
	for rows.Next() {
		var m store.MapRecord
		if err := rows.Scan(&m.Name, &m.Type, &m.KeySize, &m.ValueSize, &m.MaxEntries); err != nil {
			return nil, err
		}
		maps = append(maps, m)
	}
	return maps, rows.Err()
}

func (s *sqliteStore) listPrograms(ctx context.Context, path string) ([]store.ProgramRecord, error) {
	rows, err := s.stmtListPrograms.QueryContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("list programs for %s: %w", path, err)
	}
	defer rows.Close()

	var progs []store.ProgramRecord
	for rows.Next() {
		var p store.ProgramRecord
		if err := rows.Scan(&p.Name, &p.Type); err != nil {
			return nil, err
		}
		progs = append(progs, p)
	}
	return progs, rows.Err()
}
