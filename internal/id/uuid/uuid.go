// Package uuid provides ID generation helpers.
package uuid

import (
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// Generator creates UUID v7 strings and short random suffixes.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUID7 string. Batch and sub-task ids sort by creation time.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// NewSuffix returns n lowercase hex characters drawn from a UUIDv4.
// n is capped at 32.
func (Generator) NewSuffix(n int) (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate uuid4: %w", err)
	}
	s := hex.EncodeToString(id[:])
	if n <= 0 || n > len(s) {
		n = len(s)
	}
	return s[:n], nil
}
