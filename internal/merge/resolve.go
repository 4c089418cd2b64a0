// Package merge implements the conflict-resolution engine: given every
// observation ever extracted for a parameter plus an optional user override,
// it computes the single authoritative value and the ranked alternatives.
package merge

import (
	"sort"

	"github.com/rotisserie/eris"

	"github.com/nightfury00918/Hitachi-spec-pipeline/internal/model"
)

// Resolve computes the MergedRecord for one parameter.
//
// An override always wins regardless of strategy and is reported with
// source_type USER; the full variant history stays visible as alternatives.
// Without an override, priority picks the most trusted source type (DOCX >
// PDF > IMAGE, recency breaks ties), latest picks the newest upload (priority
// breaks ties), and all degrades to priority semantics when a single value is
// needed programmatically.
//
// Calling Resolve with no variants and no override is a contract violation
// and returns ErrEmptyVariantSet.
func Resolve(parameter string, variants []model.Variant, override *model.Override, strategy model.Strategy) (*model.MergedRecord, error) {
	if len(variants) == 0 && override == nil {
		return nil, eris.Wrapf(model.ErrEmptyVariantSet, "merge: resolve %s", parameter)
	}

	if override != nil {
		return &model.MergedRecord{
			Parameter: parameter,
			Chosen: model.ChosenValue{
				Value:      override.Value,
				Unit:       override.Unit,
				SourceType: model.SourceUser,
				UploadedAt: override.SavedAt,
			},
			// Override never hides history: every variant stays listed.
			Alternatives: sortByPriority(variants),
		}, nil
	}

	var ordered []model.Variant
	switch strategy {
	case model.StrategyLatest:
		ordered = sortByRecency(variants)
	case model.StrategyPriority, model.StrategyAll:
		ordered = sortByPriority(variants)
	default:
		return nil, eris.Errorf("merge: unknown strategy %q", strategy)
	}

	chosen := ordered[0]
	return &model.MergedRecord{
		Parameter: parameter,
		Chosen: model.ChosenValue{
			Value:      chosen.Value,
			Unit:       chosen.Unit,
			SourceType: chosen.SourceType,
			Origin:     chosen.Origin,
			UploadedAt: chosen.UploadedAt,
			Raw:        chosen.Raw,
		},
		Alternatives: ordered[1:],
	}, nil
}

// sortByPriority orders a copy of variants by descending priority rank, then
// descending recency, then id for a stable total order.
func sortByPriority(variants []model.Variant) []model.Variant {
	out := make([]model.Variant, len(variants))
	copy(out, variants)
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := out[i].SourceType.PriorityRank(), out[j].SourceType.PriorityRank()
		if ri != rj {
			return ri > rj
		}
		if !out[i].UploadedAt.Equal(out[j].UploadedAt) {
			return out[i].UploadedAt.After(out[j].UploadedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// sortByRecency orders a copy of variants by descending upload time, then
// descending priority rank, then id.
func sortByRecency(variants []model.Variant) []model.Variant {
	out := make([]model.Variant, len(variants))
	copy(out, variants)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].UploadedAt.Equal(out[j].UploadedAt) {
			return out[i].UploadedAt.After(out[j].UploadedAt)
		}
		ri, rj := out[i].SourceType.PriorityRank(), out[j].SourceType.PriorityRank()
		if ri != rj {
			return ri > rj
		}
		return out[i].ID < out[j].ID
	})
	return out
}
