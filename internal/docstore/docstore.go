// Package docstore provides keyed JSON document collections with
// store-managed versions. Backends implement Store.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
)

var (
	ErrNotFound    = errors.New("docstore: document not found")
	ErrExists      = errors.New("docstore: document already exists")
	ErrConflict    = errors.New("docstore: version mismatch")
	ErrUnavailable = errors.New("docstore: unavailable")
)

// Document is a stored record. Version starts at 1 and grows by one on every update.
type Document struct {
	ID      string
	Version int64
	Body    json.RawMessage
}

// Decode unmarshals the document body into v.
func (d *Document) Decode(v any) error {
	if err := json.Unmarshal(d.Body, v); err != nil {
		return fmt.Errorf("decode document %s: %w", d.ID, err)
	}
	return nil
}

// Fields are top-level document fields. Values must be JSON-encodable.
type Fields map[string]any

type Store interface {
	// Insert stores a new document under a generated id.
	Insert(ctx context.Context, collection string, fields Fields) (*Document, error)
	// Create stores a new document under id, failing with ErrExists if taken.
	Create(ctx context.Context, collection, id string, fields Fields) (*Document, error)
	Get(ctx context.Context, collection, id string) (*Document, error)
	// Query returns documents whose top-level field equals value, ordered by id.
	Query(ctx context.Context, collection, field, value string) ([]Document, error)
	List(ctx context.Context, collection string) ([]Document, error)
	// Update merges fields into the document; unnamed fields are untouched.
	Update(ctx context.Context, collection, id string, fields Fields, opts ...UpdateOption) (*Document, error)
}

type updateOptions struct {
	ifVersion int64
}

type UpdateOption func(*updateOptions)

// IfVersion makes an update fail with ErrConflict unless the stored version equals v.
func IfVersion(v int64) UpdateOption {
	return func(o *updateOptions) {
		o.ifVersion = v
	}
}

func applyOptions(opts []UpdateOption) updateOptions {
	var o updateOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Collection returns the application-scoped path for a named collection.
func Collection(appID, name string) string {
	return "apps/" + appID + "/" + name
}

var fieldNameRegexp = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validField(name string) error {
	if !fieldNameRegexp.MatchString(name) {
		return fmt.Errorf("docstore: invalid field name %q", name)
	}
	return nil
}

func validFields(fields Fields) error {
	for k := range fields {
		if err := validField(k); err != nil {
			return err
		}
	}
	return nil
}

// merge overlays fields onto a JSON object body.
func merge(body []byte, fields Fields) ([]byte, error) {
	doc := map[string]json.RawMessage{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &doc); err != nil {
			return nil, fmt.Errorf("decode body: %w", err)
		}
	}
	for k, v := range fields {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode field %s: %w", k, err)
		}
		doc[k] = raw
	}
	return json.Marshal(doc)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
