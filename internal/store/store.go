// Package store persists publication records and the pagination
// checkpoint behind a driver-agnostic interface.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/scoutlab/pubscout/internal/model"
)

// ErrDuplicate is returned by Insert when a record with the same
// source id already exists.
var ErrDuplicate = eris.New("store: duplicate publication")

// ErrNotFound is returned when an operation targets a missing record.
var ErrNotFound = eris.New("store: publication not found")

// Store is the persistence gateway. Insert is atomic: the record and
// its score land together or not at all.
type Store interface {
	// Exists reports whether a publication with the source id is stored.
	Exists(ctx context.Context, sourceID string) (bool, error)

	// Insert stores a record with its score. A nil score is accepted
	// only when the caller runs in unscored recovery mode. Returns
	// ErrDuplicate on a unique-key conflict.
	Insert(ctx context.Context, rec model.PublicationRecord, score *model.ScoreResult) error

	// MarkNotified records the notification timestamp for audit.
	MarkNotified(ctx context.Context, sourceID string) error

	// Cursor checkpointing for crash-safe pagination resume.
	LoadCursor(ctx context.Context, name string) (string, error)
	SaveCursor(ctx context.Context, name, value string) error
	ClearCursor(ctx context.Context, name string) error

	CountPublications(ctx context.Context) (int, error)

	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}
