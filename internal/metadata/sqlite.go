package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const dbTimeout = 2 * time.Second

const schema = `CREATE TABLE IF NOT EXISTS docs(
	id TEXT PRIMARY KEY,
	filename TEXT NOT NULL,
	title TEXT NOT NULL,
	ext TEXT NOT NULL,
	size INTEGER NOT NULL,
	tag TEXT NOT NULL DEFAULT '',
	sha256 TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
)`

// SQLiteStore implements Store using prepared statements and context timeouts.
type SQLiteStore struct {
	db          *sql.DB
	stmtInsert  *sql.Stmt
	stmtGet     *sql.Stmt
	stmtUpdTag  *sql.Stmt
	stmtDelete  *sql.Stmt
	stmtListAll *sql.Stmt
}

// NewSQLiteStore opens (creating if necessary) the database file at path and
// prepares all statements up front.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single connection keeps writers serialized; a personal collection
	// has no use for a larger pool.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	s := &SQLiteStore{db: db}
	for _, p := range []struct {
		dst  **sql.Stmt
		name string
		q    string
	}{
		{&s.stmtInsert, "insert", "INSERT INTO docs(id,filename,title,ext,size,tag,sha256,created_at,updated_at) VALUES(?,?,?,?,?,?,?,?,?)"},
		{&s.stmtGet, "get", "SELECT id,filename,title,ext,size,tag,sha256,created_at,updated_at FROM docs WHERE id=?"},
		{&s.stmtUpdTag, "updateTag", "UPDATE docs SET tag=?, updated_at=? WHERE id=?"},
		{&s.stmtDelete, "delete", "DELETE FROM docs WHERE id=?"},
		{&s.stmtListAll, "listAll", "SELECT id,filename,title,ext,size,tag,sha256,created_at,updated_at FROM docs ORDER BY updated_at DESC, id"},
	} {
		stmt, err := db.Prepare(p.q)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("prepare %s: %w", p.name, err)
		}
		*p.dst = stmt
	}

	return s, nil
}

// Insert creates a new document record.
func (s *SQLiteStore) Insert(ctx context.Context, doc *Document) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	_, err := s.stmtInsert.ExecContext(ctx,
		doc.ID, doc.Filename, doc.Title, doc.Ext, doc.Size,
		doc.Tag, doc.SHA256, doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("metadata insert: %w", err)
	}
	return nil
}

// UpdateTag sets the tag of a document and advances updated_at.
func (s *SQLiteStore) UpdateTag(ctx context.Context, id, tag string) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	res, err := s.stmtUpdTag.ExecContext(ctx, tag, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("metadata updateTag: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("metadata updateTag: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("metadata updateTag %s: %w", id, ErrNotFound)
	}
	return nil
}

// Delete removes a document record.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	res, err := s.stmtDelete.ExecContext(ctx, id)
	if err != nil {
		return fmt.Errorf("metadata delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("metadata delete: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("metadata delete %s: %w", id, ErrNotFound)
	}
	return nil
}

// Get retrieves a record by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Document, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	doc := &Document{}
	err := s.stmtGet.QueryRowContext(ctx, id).Scan(
		&doc.ID, &doc.Filename, &doc.Title, &doc.Ext, &doc.Size,
		&doc.Tag, &doc.SHA256, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("metadata get %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("metadata get: %w", err)
	}
	return doc, nil
}

// ListAll retrieves all records ordered by updated_at descending.
func (s *SQLiteStore) ListAll(ctx context.Context) ([]*Document, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.stmtListAll.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("metadata listAll: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc := &Document{}
		if err := rows.Scan(
			&doc.ID, &doc.Filename, &doc.Title, &doc.Ext, &doc.Size,
			&doc.Tag, &doc.SHA256, &doc.CreatedAt, &doc.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("metadata listAll scan: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Close releases all prepared statements and the database handle.
func (s *SQLiteStore) Close() error {
	for _, stmt := range []*sql.Stmt{s.stmtInsert, s.stmtGet, s.stmtUpdTag, s.stmtDelete, s.stmtListAll} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return s.db.Close()
}

// Verify SQLiteStore satisfies Store at compile time.
var _ Store = (*SQLiteStore)(nil)
