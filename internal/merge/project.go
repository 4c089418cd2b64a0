package merge

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/nightfury00918/Hitachi-spec-pipeline/internal/model"
	"github.com/nightfury00918/Hitachi-spec-pipeline/internal/store"
)

// Projection maps every known parameter to its resolved record.
type Projection map[string]model.MergedRecord

// Grouped is the inspection shape of the all/raw view: every stored variant
// per parameter, with a live override surfaced as a leading USER entry.
type Grouped map[string][]model.Variant

// Project resolves every parameter known to either store table under the
// given strategy. It is recomputed from a fresh snapshot on every call;
// nothing is cached, so corrections are never silently hidden by staleness.
// Parameters present only via an override are included.
func Project(ctx context.Context, st store.Store, strategy model.Strategy) (Projection, error) {
	snap, err := st.Snapshot(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "merge: project snapshot")
	}
	return ProjectSnapshot(snap, strategy)
}

// ProjectSnapshot resolves a snapshot already in hand. Pure and
// deterministic: the same snapshot and strategy always yield the same
// projection.
func ProjectSnapshot(snap *store.Snapshot, strategy model.Strategy) (Projection, error) {
	proj := make(Projection, len(snap.Variants))

	for _, param := range snapshotParameters(snap) {
		variants := snap.Variants[param]
		var override *model.Override
		if ov, ok := snap.Overrides[param]; ok {
			override = &ov
		}
		rec, err := Resolve(param, variants, override, strategy)
		if err != nil {
			return nil, eris.Wrapf(err, "merge: project %s", param)
		}
		proj[param] = *rec
	}

	return proj, nil
}

// ProjectGrouped returns the grouped/accordion shape for the all strategy and
// the raw view. Overrides appear as a leading USER entry so the live
// correction is visible next to the history it supersedes.
func ProjectGrouped(ctx context.Context, st store.Store) (Grouped, error) {
	snap, err := st.Snapshot(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "merge: grouped snapshot")
	}

	grouped := make(Grouped, len(snap.Variants))
	for _, param := range snapshotParameters(snap) {
		group := sortByPriority(snap.Variants[param])
		if ov, ok := snap.Overrides[param]; ok {
			group = append([]model.Variant{{
				ID:         ov.ID,
				Parameter:  ov.Parameter,
				Value:      ov.Value,
				Unit:       ov.Unit,
				SourceType: model.SourceUser,
				UploadedAt: ov.SavedAt,
			}}, group...)
		}
		grouped[param] = group
	}

	return grouped, nil
}

// Parameters returns the projection's parameter names in sorted order, for
// deterministic array and export output.
func (p Projection) Parameters() []string {
	params := make([]string, 0, len(p))
	for param := range p {
		params = append(params, param)
	}
	sort.Strings(params)
	return params
}

// Records returns the merged records sorted by parameter name.
func (p Projection) Records() []model.MergedRecord {
	records := make([]model.MergedRecord, 0, len(p))
	for _, param := range p.Parameters() {
		records = append(records, p[param])
	}
	return records
}

// snapshotParameters is the union of parameters ever observed or overridden,
// sorted for deterministic iteration.
func snapshotParameters(snap *store.Snapshot) []string {
	seen := make(map[string]struct{}, len(snap.Variants)+len(snap.Overrides))
	for param := range snap.Variants {
		seen[param] = struct{}{}
	}
	for param := range snap.Overrides {
		seen[param] = struct{}{}
	}
	params := make([]string, 0, len(seen))
	for param := range seen {
		params = append(params, param)
	}
	sort.Strings(params)
	return params
}
