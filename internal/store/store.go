// Package store persists the two mutable tables of the reconciliation core:
// the append-only variant history and the last-write-wins override table.
package store

import (
	"context"

	"github.com/nightfury00918/Hitachi-spec-pipeline/internal/model"
)

// Snapshot is a consistent read of both tables, taken inside one read
// transaction so a projection is never composed from a half-written override.
type Snapshot struct {
	Variants  map[string][]model.Variant // keyed by parameter, uploaded_at ascending
	Overrides map[string]model.Override  // keyed by parameter
}

// Store defines persistence for the spec reconciliation pipeline.
//
// Variants are immutable and append-only; nothing ever updates or deletes a
// variant row. Overrides replace by parameter with last-write-wins decided by
// saved_at, not arrival order.
type Store interface {
	// Variants
	AppendVariants(ctx context.Context, variants []model.Variant) (int, error)
	ListVariants(ctx context.Context, parameter string) ([]model.Variant, error)

	// Overrides
	SaveOverride(ctx context.Context, ov model.Override) (bool, error)
	GetOverride(ctx context.Context, parameter string) (*model.Override, error)

	// Reads
	Snapshot(ctx context.Context) (*Snapshot, error)

	// Defect results (latest classification batch, for GET /defects)
	SaveDefectResults(ctx context.Context, results []model.ClassifiedDefect) error
	LatestDefectResults(ctx context.Context) ([]model.ClassifiedDefect, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
