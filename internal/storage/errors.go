package storage

import (
	"fmt"

	"github.com/jwebster45206/alignment-engine/pkg/storage"
)

// unavailable marks a failed gateway call so callers can treat every
// backend failure like an absent store.
func unavailable(op string, err error) error {
	return fmt.Errorf("%w: failed to %s: %w", storage.ErrUnavailable, op, err)
}
