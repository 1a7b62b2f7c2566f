// Package vectorstore defines the contract shared by the vector index backends.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
)

// ErrDimensionMismatch is returned when a record's vector length differs from the index.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Record is one vector with its source text and flat metadata.
type Record struct {
	ID       string
	Values   []float32
	Text     string
	Metadata map[string]any
}

// Store writes records into a namespace of a shared index.
// Upsert with an empty slice is a no-op.
type Store interface {
	Upsert(ctx context.Context, namespace string, records []Record) error
}

// CheckDimensions verifies every record has exactly dims values. dims <= 0 skips the check.
func CheckDimensions(records []Record, dims int) error {
	if dims <= 0 {
		return nil
	}
	for _, r := range records {
		if len(r.Values) != dims {
			return fmt.Errorf("%w: record %s has %d, index expects %d", ErrDimensionMismatch, r.ID, len(r.Values), dims)
		}
	}
	return nil
}
