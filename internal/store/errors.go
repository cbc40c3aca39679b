package store

import (
	"errors"
	"fmt"

	"github.com/dukerupert/kidquest/internal/docstore"
	"github.com/dukerupert/kidquest/internal/model"
)

// docErr maps a docstore error onto the model sentinels, keeping op as context.
func docErr(op string, err error) error {
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		return fmt.Errorf("%s: %w", op, model.ErrNotFound)
	case errors.Is(err, docstore.ErrConflict), errors.Is(err, docstore.ErrExists):
		return fmt.Errorf("%s: %w", op, model.ErrConflict)
	case errors.Is(err, docstore.ErrUnavailable):
		return fmt.Errorf("%s: %w: %w", op, model.ErrStoreUnavailable, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// sqlErr wraps a database failure so callers can match model.ErrStoreUnavailable.
func sqlErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, model.ErrStoreUnavailable, err)
}
