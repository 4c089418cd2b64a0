package classify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nightfury00918/Hitachi-spec-pipeline/internal/merge"
	"github.com/nightfury00918/Hitachi-spec-pipeline/internal/model"
	"github.com/nightfury00918/Hitachi-spec-pipeline/internal/vocab"
)

func testClassifier(t *testing.T) *Classifier {
	t.Helper()
	return New(DefaultTable(), vocab.Default())
}

func masterWith(records ...model.MergedRecord) merge.Projection {
	proj := make(merge.Projection, len(records))
	for _, rec := range records {
		proj[rec.Parameter] = rec
	}
	return proj
}

func specRecord(parameter, value, unit string) model.MergedRecord {
	return model.MergedRecord{
		Parameter: parameter,
		Chosen: model.ChosenValue{
			Value:      value,
			Unit:       unit,
			SourceType: model.SourceDOCX,
			UploadedAt: time.Date(2025, 11, 3, 10, 0, 0, 0, time.UTC),
		},
	}
}

func TestClassify_TearAgainstLimit(t *testing.T) {
	c := testClassifier(t)
	master := masterWith(specRecord("tear_size_limit", "2.8", "mm"))

	// Default ratio 0.75: repairable up to 2.1, serviceable up to 2.8.
	cases := []struct {
		name     string
		measured float64
		want     model.Decision
	}{
		{"well under limit", 2.0, model.DecisionRepairable},
		{"just under repairable boundary", 2.09, model.DecisionRepairable},
		{"within serviceable band", 2.5, model.DecisionServiceable},
		{"at the limit", 2.8, model.DecisionServiceable},
		{"over the limit", 4.0, model.DecisionNotRepairable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := c.Classify(model.DefectRecord{
				DefectType:    "tear",
				MeasuredValue: tc.measured,
				Unit:          "mm",
			}, master)
			assert.Equal(t, tc.want, out.Decision)
			require.Len(t, out.JudgedAgainst, 1)
			assert.Equal(t, "tear_size_limit", out.JudgedAgainst[0].Parameter)
			assert.Equal(t, "2.8", out.JudgedAgainst[0].Value)
		})
	}
}

func TestClassify_UnresolvedParameterInsufficientData(t *testing.T) {
	c := testClassifier(t)
	// surface_finish_tolerance never resolved.
	master := masterWith(specRecord("tear_size_limit", "2.8", "mm"))

	out := c.Classify(model.DefectRecord{
		DefectType:    "scratch",
		MeasuredValue: 0.4,
		Unit:          "µm",
	}, master)
	assert.Equal(t, model.DecisionInsufficientData, out.Decision)
	assert.Contains(t, out.Reason, "surface_finish_tolerance")
}

func TestClassify_UnknownDefectTypeInsufficientData(t *testing.T) {
	c := testClassifier(t)

	out := c.Classify(model.DefectRecord{DefectType: "warp", MeasuredValue: 1}, masterWith())
	assert.Equal(t, model.DecisionInsufficientData, out.Decision)
	assert.NotEmpty(t, out.Reason)
}

func TestClassify_UnitMismatchInsufficientData(t *testing.T) {
	c := testClassifier(t)
	master := masterWith(specRecord("tear_size_limit", "2.8", "mm"))

	out := c.Classify(model.DefectRecord{
		DefectType:    "tear",
		MeasuredValue: 2.0,
		Unit:          "in",
	}, master)
	assert.Equal(t, model.DecisionInsufficientData, out.Decision)
	assert.Contains(t, out.Reason, "unit")
}

func TestClassify_EmptyUnitTreatedAsCanonical(t *testing.T) {
	c := testClassifier(t)

	// Defect sheets and legacy variant rows often omit the unit column; an
	// empty unit reads as the parameter's canonical unit instead of failing
	// the comparison. A stated unit still has to match exactly.
	master := masterWith(specRecord("tear_size_limit", "2.8", ""))
	out := c.Classify(model.DefectRecord{
		DefectType:    "tear",
		MeasuredValue: 2.0,
	}, master)
	assert.Equal(t, model.DecisionRepairable, out.Decision)

	master = masterWith(specRecord("tear_size_limit", "2.8", "cm"))
	out = c.Classify(model.DefectRecord{
		DefectType:    "tear",
		MeasuredValue: 2.0,
	}, master)
	assert.Equal(t, model.DecisionInsufficientData, out.Decision)
}

func TestClassify_UnitSynonymsAccepted(t *testing.T) {
	c := testClassifier(t)
	master := masterWith(specRecord("surface_finish_tolerance", "1.6", "um"))

	out := c.Classify(model.DefectRecord{
		DefectType:    "scratch",
		MeasuredValue: 1.0,
		Unit:          "micron",
	}, master)
	assert.Equal(t, model.DecisionRepairable, out.Decision)
}

func TestClassify_ToleranceSpecValue(t *testing.T) {
	c := testClassifier(t)
	master := masterWith(specRecord("thickness_tolerance", "±0.5", "mm"))

	out := c.Classify(model.DefectRecord{
		DefectType:    "dent",
		MeasuredValue: 0.6,
		Unit:          "mm",
	}, master)
	assert.Equal(t, model.DecisionNotRepairable, out.Decision)
}

func TestClassify_CrackAlwaysFails(t *testing.T) {
	c := testClassifier(t)

	out := c.Classify(model.DefectRecord{DefectType: "crack"}, masterWith())
	assert.Equal(t, model.DecisionNotRepairable, out.Decision)
}

func TestClassify_CoatingGate(t *testing.T) {
	c := testClassifier(t)

	out := c.Classify(model.DefectRecord{DefectType: "coating-wear"},
		masterWith(specRecord("coating_required", "yes", "")))
	assert.Equal(t, model.DecisionNotRepairable, out.Decision)

	out = c.Classify(model.DefectRecord{DefectType: "coating-wear"},
		masterWith(specRecord("coating_required", "no", "")))
	assert.Equal(t, model.DecisionRepairable, out.Decision)

	out = c.Classify(model.DefectRecord{DefectType: "coating-wear"}, masterWith())
	assert.Equal(t, model.DecisionInsufficientData, out.Decision)
}

func TestClassify_DefectTypeCaseInsensitive(t *testing.T) {
	c := testClassifier(t)
	master := masterWith(specRecord("tear_size_limit", "2.8", "mm"))

	out := c.Classify(model.DefectRecord{
		DefectType:    "  Tear ",
		MeasuredValue: 2.0,
		Unit:          "mm",
	}, master)
	assert.Equal(t, model.DecisionRepairable, out.Decision)
}

func TestClassify_NotRepairableBeatsUnresolved(t *testing.T) {
	table := &Table{Rules: map[string]Rule{
		"gouge": {Kind: KindLimit, Parameters: []string{"hole_diameter", "tear_size_limit"}},
	}}
	c := New(table, vocab.Default())
	// hole_diameter unresolved, tear_size_limit blown.
	master := masterWith(specRecord("tear_size_limit", "2.8", "mm"))

	out := c.Classify(model.DefectRecord{
		DefectType:    "gouge",
		MeasuredValue: 5.0,
		Unit:          "mm",
	}, master)
	assert.Equal(t, model.DecisionNotRepairable, out.Decision)
}

func TestClassify_WorstTierAcrossParameters(t *testing.T) {
	table := &Table{Rules: map[string]Rule{
		"gouge": {Kind: KindLimit, Parameters: []string{"hole_diameter", "tear_size_limit"}},
	}}
	c := New(table, vocab.Default())
	master := masterWith(
		specRecord("hole_diameter", "10", "mm"),    // 5.0 is repairable
		specRecord("tear_size_limit", "5.5", "mm"), // 5.0 is serviceable
	)

	out := c.Classify(model.DefectRecord{
		DefectType:    "gouge",
		MeasuredValue: 5.0,
		Unit:          "mm",
	}, master)
	assert.Equal(t, model.DecisionServiceable, out.Decision)
	assert.Len(t, out.JudgedAgainst, 2)
}

func TestClassifyBatch_BadRowNeverAbortsBatch(t *testing.T) {
	c := testClassifier(t)
	master := masterWith(specRecord("tear_size_limit", "2.8", "mm"))

	results := c.ClassifyBatch([]model.DefectRecord{
		{ID: "d1", DefectType: "tear", MeasuredValue: 2.0, Unit: "mm"},
		{ID: "d2", DefectType: "scratch", MeasuredValue: 0.4, Unit: "µm"},
		{ID: "d3", DefectType: "tear", MeasuredValue: 4.0, Unit: "mm"},
	}, master)

	require.Len(t, results, 3)
	assert.Equal(t, model.DecisionRepairable, results[0].Decision)
	assert.Equal(t, model.DecisionInsufficientData, results[1].Decision)
	assert.Equal(t, model.DecisionNotRepairable, results[2].Decision)
}

func TestClassify_NonNumericSpecValue(t *testing.T) {
	c := testClassifier(t)
	master := masterWith(specRecord("tear_size_limit", "n/a", "mm"))

	out := c.Classify(model.DefectRecord{
		DefectType:    "tear",
		MeasuredValue: 2.0,
		Unit:          "mm",
	}, master)
	assert.Equal(t, model.DecisionInsufficientData, out.Decision)
}
