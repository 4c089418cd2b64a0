package classify

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/nightfury00918/Hitachi-spec-pipeline/internal/merge"
	"github.com/nightfury00918/Hitachi-spec-pipeline/internal/model"
	"github.com/nightfury00918/Hitachi-spec-pipeline/internal/vocab"
)

// Classifier judges defect records against a master projection.
type Classifier struct {
	table    *Table
	registry *vocab.Registry
}

// New creates a classifier over a rule table and parameter vocabulary.
func New(table *Table, registry *vocab.Registry) *Classifier {
	return &Classifier{table: table, registry: registry}
}

// ClassifyBatch judges every defect independently. A defect that cannot be
// judged surfaces as Insufficient Data on its own row; it never aborts the
// batch.
func (c *Classifier) ClassifyBatch(defects []model.DefectRecord, master merge.Projection) []model.ClassifiedDefect {
	results := make([]model.ClassifiedDefect, 0, len(defects))
	for _, d := range defects {
		results = append(results, c.Classify(d, master))
	}
	return results
}

// Classify applies the rule table to one defect. The decision tiers per
// governing parameter are:
//
//	measured <= ratio*limit          -> Repairable
//	ratio*limit < measured <= limit  -> Serviceable
//	measured > limit                 -> Not Repairable
//
// where ratio is the parameter's configured repairable_ratio. All governing
// parameters must pass for Repairable; any Not Repairable makes the whole
// decision Not Repairable; otherwise an unresolved parameter yields
// Insufficient Data rather than a guess.
func (c *Classifier) Classify(defect model.DefectRecord, master merge.Projection) model.ClassifiedDefect {
	out := model.ClassifiedDefect{DefectRecord: defect}

	rule := c.table.Get(defect.DefectType)
	if rule == nil {
		out.Decision = model.DecisionInsufficientData
		out.Reason = "no classification rule for defect type"
		zap.L().Warn("classify: unknown defect type",
			zap.String("defect_type", defect.DefectType),
		)
		return out
	}

	switch rule.Kind {
	case KindAlwaysFail:
		out.Decision = model.DecisionNotRepairable
		return out

	case KindBoolGate:
		return c.classifyBoolGate(out, rule, master)

	default:
		return c.classifyLimit(out, rule, master)
	}
}

// classifyBoolGate fails the defect when the gate parameter resolves truthy
// (e.g. a coated part cannot be reworked in the field).
func (c *Classifier) classifyBoolGate(out model.ClassifiedDefect, rule *Rule, master merge.Projection) model.ClassifiedDefect {
	rec, ok := master[rule.GateParameter]
	if !ok {
		out.Decision = model.DecisionInsufficientData
		out.Reason = "gate parameter " + rule.GateParameter + " has no resolved value"
		return out
	}
	out.JudgedAgainst = append(out.JudgedAgainst, basisOf(rec))

	switch strings.ToLower(strings.TrimSpace(rec.Chosen.Value)) {
	case "yes", "true", "1":
		out.Decision = model.DecisionNotRepairable
	default:
		out.Decision = model.DecisionRepairable
	}
	return out
}

// classifyLimit compares the measurement against every governing parameter
// and combines the tiers.
func (c *Classifier) classifyLimit(out model.ClassifiedDefect, rule *Rule, master merge.Projection) model.ClassifiedDefect {
	decision := model.DecisionRepairable
	var unresolvedReason string

	for _, param := range rule.Parameters {
		tier, basis, err := c.judgeAgainst(out.DefectRecord, param, master)
		if basis != nil {
			out.JudgedAgainst = append(out.JudgedAgainst, *basis)
		}
		if err != nil {
			// Any definitive failure still wins over missing data; otherwise
			// the row is surfaced as insufficient, never guessed.
			if unresolvedReason == "" {
				unresolvedReason = eris.Cause(err).Error() + ": " + param
			}
			zap.L().Warn("classify: comparison failed",
				zap.String("defect_type", out.DefectType),
				zap.String("parameter", param),
				zap.Error(err),
			)
			continue
		}
		if tier == model.DecisionNotRepairable {
			out.Decision = model.DecisionNotRepairable
			return out
		}
		decision = model.Worst(decision, tier)
	}

	if unresolvedReason != "" {
		out.Decision = model.DecisionInsufficientData
		out.Reason = unresolvedReason
		return out
	}

	out.Decision = decision
	return out
}

// judgeAgainst evaluates one governing parameter. It returns the tier for
// this parameter, the spec basis used (when one was resolved), and an error
// wrapping ErrUnresolvedSpec or ErrUnitMismatch when no comparison was
// possible.
func (c *Classifier) judgeAgainst(defect model.DefectRecord, param string, master merge.Projection) (model.Decision, *model.SpecBasis, error) {
	rec, ok := master[param]
	if !ok {
		return "", nil, eris.Wrapf(model.ErrUnresolvedSpec, "classify: %s", param)
	}
	basis := basisOf(rec)

	def := c.registry.ByName(param)
	if def == nil {
		return "", &basis, eris.Wrapf(model.ErrUnresolvedSpec, "classify: %s not in vocabulary", param)
	}

	// Units must agree with the parameter's canonical unit on both sides.
	// An empty unit is taken as already-canonical; anything else mismatched
	// fails the comparison rather than guessing a conversion.
	if rec.Chosen.Unit != "" && !vocab.UnitsMatch(rec.Chosen.Unit, def.CanonicalUnit) {
		return "", &basis, eris.Wrapf(model.ErrUnitMismatch, "classify: spec %s in %q, canonical %q", param, rec.Chosen.Unit, def.CanonicalUnit)
	}
	if defect.Unit != "" && !vocab.UnitsMatch(defect.Unit, def.CanonicalUnit) {
		return "", &basis, eris.Wrapf(model.ErrUnitMismatch, "classify: measurement in %q, canonical %q", defect.Unit, def.CanonicalUnit)
	}

	limit, err := parseLimit(rec.Chosen.Value)
	if err != nil {
		return "", &basis, eris.Wrapf(model.ErrUnresolvedSpec, "classify: %s value %q is not numeric", param, rec.Chosen.Value)
	}

	switch {
	case defect.MeasuredValue > limit:
		return model.DecisionNotRepairable, &basis, nil
	case defect.MeasuredValue > limit*def.RepairableRatio:
		return model.DecisionServiceable, &basis, nil
	default:
		return model.DecisionRepairable, &basis, nil
	}
}

func basisOf(rec model.MergedRecord) model.SpecBasis {
	return model.SpecBasis{
		Parameter:  rec.Parameter,
		Value:      rec.Chosen.Value,
		Unit:       rec.Chosen.Unit,
		SourceType: rec.Chosen.SourceType,
	}
}

// parseLimit parses a spec value, tolerating a tolerance prefix like ±0.5.
func parseLimit(value string) (float64, error) {
	s := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(value), "±"))
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "classify: parse %q", value)
	}
	return f, nil
}
