// Package store persists extraction output by content address.
//
// A reference has the form "sha256:<hex>". Writing the same bytes twice
// yields the same reference and stores them once.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const refPrefix = "sha256:"

var (
	// ErrNotFound indicates no blob is stored under the reference.
	ErrNotFound = errors.New("blob not found")

	// ErrInvalidRef indicates a malformed reference.
	ErrInvalidRef = errors.New("invalid storage reference")
)

// Store is a content-addressed blob store.
type Store interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
}

// Ref returns the content address of data.
func Ref(data []byte) string {
	sum := sha256.Sum256(data)
	return refPrefix + hex.EncodeToString(sum[:])
}

// digest validates ref and returns its hex digest.
func digest(ref string) (string, error) {
	hexPart, ok := strings.CutPrefix(ref, refPrefix)
	if !ok || len(hexPart) != sha256.Size*2 {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	if _, err := hex.DecodeString(hexPart); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	return hexPart, nil
}
