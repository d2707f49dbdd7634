// Package backend stores capsule documents.
//
// A Backend is keyed by capsule ID and holds opaque bytes; framing and
// integrity belong to package wire. Two implementations are provided: one
// file per capsule on a billy filesystem, and a single SQLite table.
package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidID is returned for capsule IDs that cannot name a document.
var ErrInvalidID = errors.New("backend: invalid capsule id")

// Backend persists one document per capsule.
type Backend interface {
	// Read returns the document of id. found is false when none is stored.
	Read(ctx context.Context, id string) (data []byte, found bool, err error)
	// Write replaces the document of id.
	Write(ctx context.Context, id string, data []byte) error
	// Delete removes the document of id. Deleting a missing document is
	// not an error.
	Delete(ctx context.Context, id string) error
	// List returns the IDs of all stored documents, sorted.
	List(ctx context.Context) ([]string, error)
}

// ValidateID rejects IDs that are empty or could escape a directory.
func ValidateID(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("%w: empty", ErrInvalidID)
	case id == "." || id == "..":
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	case strings.ContainsAny(id, `/\`):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidID, id)
	case strings.ContainsRune(id, 0):
		return fmt.Errorf("%w: %q contains NUL", ErrInvalidID, id)
	}
	return nil
}
