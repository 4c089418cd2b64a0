// Package classify maps field-reported defect measurements to repair
// decisions by comparing them against the resolved master specs.
package classify

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Rule kinds. Limit rules compare a measurement against governing
// parameters; the other kinds cover defects that are not measured.
const (
	KindLimit      = "limit"
	KindAlwaysFail = "always_fail"
	KindBoolGate   = "bool_gate"
)

// Rule maps one defect type to its governing parameters. New defect types
// are added by table entry, not code change.
type Rule struct {
	Kind          string   `yaml:"kind,omitempty"`           // default "limit"
	Parameters    []string `yaml:"parameters,omitempty"`     // governing parameters, all must pass
	GateParameter string   `yaml:"gate_parameter,omitempty"` // bool_gate: fail when this parameter is truthy
}

// Table is the defect-type lookup table.
type Table struct {
	Rules map[string]Rule `yaml:"rules"`
}

// Get returns the rule for a defect type, nil when none is configured.
// Lookup is case-insensitive.
func (t *Table) Get(defectType string) *Rule {
	if t == nil {
		return nil
	}
	r, ok := t.Rules[strings.ToLower(strings.TrimSpace(defectType))]
	if !ok {
		return nil
	}
	return &r
}

// LoadTable reads a YAML rule table of the shape:
//
//	rules:
//	  tear:
//	    parameters: [tear_size_limit]
//	  crack:
//	    kind: always_fail
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "classify: read rules %s", path)
	}

	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, eris.Wrap(err, "classify: parse rules")
	}
	if len(t.Rules) == 0 {
		return nil, eris.Errorf("classify: %s defines no rules", path)
	}

	normalized := make(map[string]Rule, len(t.Rules))
	for dtype, rule := range t.Rules {
		if rule.Kind == "" {
			rule.Kind = KindLimit
		}
		switch rule.Kind {
		case KindLimit:
			if len(rule.Parameters) == 0 {
				return nil, eris.Errorf("classify: rule %q has no governing parameters", dtype)
			}
		case KindBoolGate:
			if rule.GateParameter == "" {
				return nil, eris.Errorf("classify: rule %q has no gate_parameter", dtype)
			}
		case KindAlwaysFail:
		default:
			return nil, eris.Errorf("classify: rule %q has unknown kind %q", dtype, rule.Kind)
		}
		normalized[strings.ToLower(dtype)] = rule
	}
	t.Rules = normalized

	return &t, nil
}

// DefaultTable covers the standard defect sheet. Used when no rules file is
// configured.
func DefaultTable() *Table {
	return &Table{Rules: map[string]Rule{
		"tear":          {Kind: KindLimit, Parameters: []string{"tear_size_limit"}},
		"scratch":       {Kind: KindLimit, Parameters: []string{"surface_finish_tolerance"}},
		"oversize-hole": {Kind: KindLimit, Parameters: []string{"hole_diameter"}},
		"dent":          {Kind: KindLimit, Parameters: []string{"thickness_tolerance"}},
		"crack":         {Kind: KindAlwaysFail},
		"coating-wear":  {Kind: KindBoolGate, GateParameter: "coating_required"},
	}}
}
