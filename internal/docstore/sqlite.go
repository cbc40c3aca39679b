package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// SQLStore keeps documents in the documents table of a SQLite database
// opened by database.Open.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Insert(ctx context.Context, collection string, fields Fields) (*Document, error) {
	return s.Create(ctx, collection, uuid.NewString(), fields)
}

func (s *SQLStore) Create(ctx context.Context, collection, id string, fields Fields) (*Document, error) {
	if err := validFields(fields); err != nil {
		return nil, err
	}
	body, err := merge(nil, fields)
	if err != nil {
		return nil, err
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (collection, id, version, body) VALUES (?, ?, 1, ?)
		 ON CONFLICT(collection, id) DO NOTHING`,
		collection, id, string(body),
	)
	if err != nil {
		return nil, unavailable("insert document", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, unavailable("rows affected", err)
	}
	if n == 0 {
		return nil, ErrExists
	}
	return &Document{ID: id, Version: 1, Body: body}, nil
}

func (s *SQLStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	var d Document
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, version, body FROM documents WHERE collection = ? AND id = ?`,
		collection, id,
	).Scan(&d.ID, &d.Version, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get document", err)
	}
	d.Body = []byte(body)
	return &d, nil
}

func (s *SQLStore) Query(ctx context.Context, collection, field, value string) ([]Document, error) {
	if err := validField(field); err != nil {
		return nil, err
	}
	return s.list(ctx,
		`SELECT id, version, body FROM documents
		 WHERE collection = ? AND json_extract(body, ?) = ? ORDER BY id`,
		collection, "$."+field, value,
	)
}

func (s *SQLStore) List(ctx context.Context, collection string) ([]Document, error) {
	return s.list(ctx,
		`SELECT id, version, body FROM documents WHERE collection = ? ORDER BY id`,
		collection,
	)
}

func (s *SQLStore) list(ctx context.Context, query string, args ...any) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("query documents", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		var body string
		if err := rows.Scan(&d.ID, &d.Version, &body); err != nil {
			return nil, unavailable("scan document", err)
		}
		d.Body = []byte(body)
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate documents", err)
	}
	return docs, nil
}

// Update reads the current body, merges fields and writes it back only if
// the version is unchanged, so a concurrent writer yields ErrConflict.
func (s *SQLStore) Update(ctx context.Context, collection, id string, fields Fields, opts ...UpdateOption) (*Document, error) {
	o := applyOptions(opts)
	if err := validFields(fields); err != nil {
		return nil, err
	}

	current, err := s.Get(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	if o.ifVersion != 0 && current.Version != o.ifVersion {
		return nil, ErrConflict
	}

	body, err := merge(current.Body, fields)
	if err != nil {
		return nil, err
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE documents SET body = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
		 WHERE collection = ? AND id = ? AND version = ?`,
		string(body), collection, id, current.Version,
	)
	if err != nil {
		return nil, unavailable("update document", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, unavailable("rows affected", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("update %s/%s: %w", collection, id, ErrConflict)
	}

	return &Document{ID: id, Version: current.Version + 1, Body: body}, nil
}
