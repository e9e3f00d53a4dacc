// Package history persists per-user analysis history as a single
// remote document holding an ordered list of records.
//
// The list is most-recent-first and bounded to MaxEntries. The store
// performs full-list replacement on every sync; deleting one record is
// done by the caller removing it locally and syncing the reduced list.
// The cap is NOT enforced here; ordering and bounding are the
// orchestrator's responsibility.
package history

import (
	"context"
	"time"
)

// MaxEntries is the history bound per user. The oldest (last) entry is
// evicted by the orchestrator when a new record would exceed it.
const MaxEntries = 50

// Record is one completed analysis. Immutable once appended, except
// for deletion.
type Record struct {
	// Latitude/Longitude are nil when the image carried no GPS data.
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`

	// Address is the reverse-geocoded place string, or the sentinel
	// display string for the geocoding outcome.
	Address string `json:"address"`

	Timestamp time.Time `json:"timestamp"`

	// Metadata is the normalized display mapping at analysis time.
	Metadata map[string]string `json:"metadata"`

	// ImagePreview is a base64-encoded compressed JPEG, or empty.
	ImagePreview string `json:"imagePreview,omitempty"`
}

// Store reads and writes a user's history document.
//
// Load returns an empty list when the user has no document yet.
// Sync replaces the document's history field with the given full list
// and fails when uid is empty (no authenticated user).
type Store interface {
	Load(ctx context.Context, uid string) ([]Record, error)
	Sync(ctx context.Context, uid string, records []Record) error
}
