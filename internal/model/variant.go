package model

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// SourceType identifies the provenance of an extracted value.
type SourceType string

const (
	SourceDOCX  SourceType = "DOCX"
	SourcePDF   SourceType = "PDF"
	SourceImage SourceType = "IMAGE" // OCR provenance
	SourceUser  SourceType = "USER"  // manual override, never stored as a variant
)

// PriorityRank returns the trust order used by the priority strategy.
// DOCX beats PDF beats IMAGE; USER is handled before ranking applies.
func (s SourceType) PriorityRank() int {
	switch s {
	case SourceDOCX:
		return 3
	case SourcePDF:
		return 2
	case SourceImage:
		return 1
	default:
		return 0
	}
}

// ParseSourceType validates a source type string from an upstream extractor.
func ParseSourceType(s string) (SourceType, error) {
	switch SourceType(strings.ToUpper(strings.TrimSpace(s))) {
	case SourceDOCX:
		return SourceDOCX, nil
	case SourcePDF:
		return SourcePDF, nil
	case SourceImage:
		return SourceImage, nil
	}
	return "", eris.Errorf("model: invalid source type %q", s)
}

// Strategy selects how conflicting variants are reconciled.
type Strategy string

const (
	StrategyPriority Strategy = "priority"
	StrategyLatest   Strategy = "latest"
	StrategyAll      Strategy = "all"
)

// ParseStrategy validates a strategy name from a query parameter or flag.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case StrategyPriority:
		return StrategyPriority, nil
	case StrategyLatest:
		return StrategyLatest, nil
	case StrategyAll:
		return StrategyAll, nil
	}
	return "", eris.Errorf("model: invalid strategy %q", s)
}

// Variant is one immutable observation of a parameter from one document.
// Variants are append-only: a re-extraction produces a new row, never an update.
type Variant struct {
	ID         string     `json:"id"`
	Parameter  string     `json:"parameter"`
	Value      string     `json:"value"`
	Unit       string     `json:"unit"`
	SourceType SourceType `json:"source_type"`
	Origin     string     `json:"origin,omitempty"` // source document filename
	UploadedAt time.Time  `json:"uploaded_at"`
	Raw        string     `json:"raw,omitempty"` // original text fragment, kept for audit
}

// Override is a user-supplied correction for one parameter. At most one is
// live per parameter; a newer SavedAt replaces it regardless of arrival order.
type Override struct {
	ID        string    `json:"id"`
	Parameter string    `json:"parameter"`
	Value     string    `json:"value"`
	Unit      string    `json:"unit"`
	SavedAt   time.Time `json:"saved_at"`
}

// ChosenValue is the authoritative value picked by the resolver.
type ChosenValue struct {
	Value      string     `json:"value"`
	Unit       string     `json:"unit"`
	SourceType SourceType `json:"source_type"`
	Origin     string     `json:"origin,omitempty"`
	UploadedAt time.Time  `json:"uploaded_at"`
	Raw        string     `json:"raw,omitempty"`
}

// MergedRecord is the resolver output for one parameter under one strategy.
type MergedRecord struct {
	Parameter    string      `json:"parameter"`
	Chosen       ChosenValue `json:"chosen"`
	Alternatives []Variant   `json:"alternatives,omitempty"`
}
