// Package vocab holds the controlled parameter vocabulary: the fixed set of
// engineering spec fields the pipeline is allowed to reconcile.
package vocab

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/nightfury00918/Hitachi-spec-pipeline/internal/model"
)

// DefaultRepairableRatio is applied when a parameter omits repairable_ratio.
// The Repairable/Serviceable boundary is per-parameter configuration, not a
// universal constant; the default only backfills incomplete vocabularies.
const DefaultRepairableRatio = 0.75

// Parameter describes one entry of the controlled vocabulary.
type Parameter struct {
	Name            string   `yaml:"name"`
	CanonicalUnit   string   `yaml:"unit"`
	Numeric         bool     `yaml:"numeric"`
	RepairableRatio float64  `yaml:"repairable_ratio,omitempty"`
	Aliases         []string `yaml:"aliases,omitempty"`
}

// Registry is an indexed, immutable view of the vocabulary.
type Registry struct {
	Parameters []Parameter
	byName     map[string]*Parameter
}

// NewRegistry indexes parameters by canonical name and by alias.
// Parameters missing a repairable ratio get DefaultRepairableRatio.
func NewRegistry(params []Parameter) *Registry {
	r := &Registry{
		Parameters: params,
		byName:     make(map[string]*Parameter, len(params)),
	}
	for i := range r.Parameters {
		p := &r.Parameters[i]
		if p.Numeric && p.RepairableRatio == 0 {
			zap.L().Warn("vocab: parameter missing repairable_ratio, applying default",
				zap.String("parameter", p.Name),
				zap.Float64("default", DefaultRepairableRatio),
			)
			p.RepairableRatio = DefaultRepairableRatio
		}
		// Lookup is lowercase on both sides, so a vocabulary file may spell
		// names however it likes.
		r.byName[strings.ToLower(p.Name)] = p
		for _, a := range p.Aliases {
			r.byName[strings.ToLower(a)] = p
		}
	}
	return r
}

// ByName returns the parameter for a canonical name or alias, or nil.
func (r *Registry) ByName(name string) *Parameter {
	return r.byName[strings.ToLower(strings.TrimSpace(name))]
}

// Validate returns ErrUnknownParameter when name is outside the vocabulary.
func (r *Registry) Validate(name string) error {
	if r.ByName(name) == nil {
		return eris.Wrapf(model.ErrUnknownParameter, "vocab: %q", name)
	}
	return nil
}

// LoadFromFile reads a YAML vocabulary of the shape:
//
//	parameters:
//	  - name: tear_size_limit
//	    unit: mm
//	    numeric: true
//	    repairable_ratio: 0.7
func LoadFromFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "vocab: read %s", path)
	}

	var wrapper struct {
		Parameters []Parameter `yaml:"parameters"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "vocab: parse vocabulary")
	}
	if len(wrapper.Parameters) == 0 {
		return nil, eris.Errorf("vocab: %s defines no parameters", path)
	}

	return NewRegistry(wrapper.Parameters), nil
}

// Default returns the built-in vocabulary covering the standard spec sheet
// fields. Used when no vocabulary file is configured.
func Default() *Registry {
	return NewRegistry([]Parameter{
		{Name: "cap_diameter", CanonicalUnit: "mm", Numeric: true, RepairableRatio: 0.75, Aliases: []string{"cap diameter", "cap dia"}},
		{Name: "tear_size_limit", CanonicalUnit: "mm", Numeric: true, RepairableRatio: 0.75, Aliases: []string{"tear size limit", "tear limit"}},
		{Name: "surface_finish_tolerance", CanonicalUnit: "µm", Numeric: true, RepairableRatio: 0.8, Aliases: []string{"surface finish tolerance"}},
		{Name: "hole_diameter", CanonicalUnit: "mm", Numeric: true, RepairableRatio: 0.75, Aliases: []string{"hole diameter", "hole dia"}},
		{Name: "length_tolerance", CanonicalUnit: "mm", Numeric: true, RepairableRatio: 0.75},
		{Name: "width_tolerance", CanonicalUnit: "mm", Numeric: true, RepairableRatio: 0.75},
		{Name: "thickness_tolerance", CanonicalUnit: "mm", Numeric: true, RepairableRatio: 0.75},
		{Name: "material_type", CanonicalUnit: "", Numeric: false, Aliases: []string{"material"}},
		{Name: "coating_required", CanonicalUnit: "", Numeric: false},
		{Name: "max_pressure", CanonicalUnit: "bar", Numeric: true, RepairableRatio: 0.85, Aliases: []string{"operating pressure"}},
		{Name: "max_temperature", CanonicalUnit: "°c", Numeric: true, RepairableRatio: 0.85, Aliases: []string{"max temp"}},
		{Name: "min_temperature", CanonicalUnit: "°c", Numeric: true, RepairableRatio: 0.85, Aliases: []string{"min temp"}},
	})
}

// unitSynonyms maps spelling variants onto one canonical form. These are
// spellings of the same unit, not conversions between units.
var unitSynonyms = map[string]string{
	"um":      "µm",
	"micron":  "µm",
	"microns": "µm",
	"c":       "°c",
	"degc":    "°c",
	"celsius": "°c",
}

// NormalizeUnit lowercases a unit and collapses spelling variants.
func NormalizeUnit(unit string) string {
	u := strings.ToLower(strings.TrimSpace(unit))
	if canon, ok := unitSynonyms[u]; ok {
		return canon
	}
	return u
}

// UnitsMatch reports whether two unit strings denote the same unit after
// normalization. Cross-unit conversion is never attempted.
func UnitsMatch(a, b string) bool {
	return NormalizeUnit(a) == NormalizeUnit(b)
}
