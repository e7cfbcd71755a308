// Package repository persists the event snapshot. Every implementation reads
// and writes the whole collection at once; Update is the single serialization
// point for read-modify-write cycles such as slot claims.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Shivanand-hulikatti/teamsignups/internal/model"
)

// ErrStorageUnavailable wraps any failure to read or write persisted state.
var ErrStorageUnavailable = errors.New("storage unavailable")

// ErrCorruptSnapshot is returned when persisted data does not decode into a
// valid event document. The stored bytes are left untouched.
var ErrCorruptSnapshot = errors.New("persisted snapshot is malformed")

// UpdateFunc receives the current snapshot and returns the one to persist.
// Returning an error aborts the cycle without writing.
type UpdateFunc func(events []model.Event) ([]model.Event, error)

// Store is the durable event collection.
type Store interface {
	// ReadAll returns an independent copy of the last written snapshot.
	ReadAll(ctx context.Context) ([]model.Event, error)
	// WriteAll atomically replaces the snapshot.
	WriteAll(ctx context.Context, events []model.Event) error
	// Update runs fn against the current snapshot while holding the store's
	// exclusive lock and persists its result.
	Update(ctx context.Context, fn UpdateFunc) error
	// Ping reports whether the backing storage is reachable.
	Ping(ctx context.Context) error
	Close() error
}

func encodeSnapshot(events []model.Event) ([]byte, error) {
	events = model.Normalize(model.CloneEvents(events))
	b, err := json.MarshalIndent(model.Document{Events: events}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return b, nil
}

func decodeSnapshot(b []byte) ([]model.Event, error) {
	var doc struct {
		Events *[]model.Event `json:"events"`
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	if doc.Events == nil {
		return nil, fmt.Errorf("%w: events array missing", ErrCorruptSnapshot)
	}
	return model.Normalize(*doc.Events), nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}
