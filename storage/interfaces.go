package storage

import (
	"errors"

	"flatbot/models"
)

// ErrNotFound is returned when a listing id is not present in the store.
var ErrNotFound = errors.New("listing not found")

// ErrAlreadyExists is returned by Insert when the id is already present.
// Callers treat it as a no-op, not a failure.
var ErrAlreadyExists = errors.New("listing already exists")

// Stats summarizes the state of the work queue.
type Stats struct {
	Total     int
	Processed int
	Eligible  int
}

// ListingStore is the persistent work queue every discovered listing passes
// through. Insert is idempotent on (source, id); IncrementFailures is atomic
// and marks the listing processed once the configured attempt bound is
// reached, so an exhausted listing can never re-enter the queue.
type ListingStore interface {
	Insert(l *models.Listing) error
	Exists(source, id string) (bool, error)
	Get(source, id string) (*models.Listing, error)
	Update(l *models.Listing) error
	MarkProcessed(source, id string) error
	IncrementFailures(source, id string) (int, error)
	SelectEligible() ([]*models.Listing, error)
	Stats() (Stats, error)
	Delete(source, id string) error
	Close() error
}
