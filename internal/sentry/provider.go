package sentry

import (
	"context"
	"time"
)

// FetchRequest describes one imagery request. The source must return
// dimensionally identical images for repeated requests with the same Key.
type FetchRequest struct {
	Key    Key
	Target Target
	Layer  Layer
	BBox   BBox
	Width  int
	Height int
	Date   time.Time
}

// ImageSource abstracts a remote imagery provider (e.g. NASA GIBS).
// Failures should be *FetchError; anything else is treated as a transport failure.
type ImageSource interface {
	Name() string
	Fetch(ctx context.Context, req FetchRequest) (raw []byte, contentType string, err error)
}

// BaselineStore seeds and serves per-key reference images.
//
// EnsureReference persists a copy of current when no reference exists and
// returns it with created true; otherwise it returns the existing reference
// untouched. Failures are *StorageError.
type BaselineStore interface {
	EnsureReference(ctx context.Context, key Key, current Snapshot) (Snapshot, bool, error)
}

// RunStore is the contract the in-memory run history (and any future persistent store) must satisfy.
type RunStore interface {
	SaveRun(report *RunReport)
	Latest() (*RunReport, error)
	Range(from, to time.Time) ([]*RunReport, error)
	LatestOutcome(key Key) (Outcome, error)
}

// Publisher consumes finished runs, e.g. to write report documents.
type Publisher interface {
	Publish(ctx context.Context, report *RunReport) error
}
