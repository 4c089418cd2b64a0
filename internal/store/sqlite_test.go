package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nightfury00918/Hitachi-spec-pipeline/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

var (
	tEarly = time.Date(2025, 11, 3, 10, 0, 0, 0, time.UTC)
	tLate  = time.Date(2025, 11, 3, 11, 0, 0, 0, time.UTC)
)

func TestSQLite_AppendVariantsAccumulates(t *testing.T) {
	ctx := context.Background()
	st := newTestSQLiteStore(t)

	n, err := st.AppendVariants(ctx, []model.Variant{
		{Parameter: "cap_diameter", Value: "12.5", Unit: "mm", SourceType: model.SourceDOCX, Origin: "rev4.docx", UploadedAt: tEarly},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// A re-extraction appends, never replaces.
	n, err = st.AppendVariants(ctx, []model.Variant{
		{Parameter: "cap_diameter", Value: "12.7", Unit: "mm", SourceType: model.SourcePDF, UploadedAt: tLate},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	variants, err := st.ListVariants(ctx, "cap_diameter")
	require.NoError(t, err)
	require.Len(t, variants, 2)
	assert.Equal(t, "12.5", variants[0].Value)
	assert.Equal(t, "rev4.docx", variants[0].Origin)
	assert.Equal(t, model.SourceDOCX, variants[0].SourceType)
	assert.Equal(t, "12.7", variants[1].Value)
	assert.NotEmpty(t, variants[0].ID, "missing IDs are filled in")
	assert.NotEqual(t, variants[0].ID, variants[1].ID)
}

func TestSQLite_AppendVariantsEmpty(t *testing.T) {
	st := newTestSQLiteStore(t)
	n, err := st.AppendVariants(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSQLite_ListVariantsUnknownParameter(t *testing.T) {
	st := newTestSQLiteStore(t)
	variants, err := st.ListVariants(context.Background(), "cap_diameter")
	require.NoError(t, err)
	assert.Empty(t, variants)
}

func TestSQLite_SaveOverrideLastWriteWins(t *testing.T) {
	ctx := context.Background()
	st := newTestSQLiteStore(t)

	applied, err := st.SaveOverride(ctx, model.Override{Parameter: "max_pressure", Value: "6.0", Unit: "bar", SavedAt: tLate})
	require.NoError(t, err)
	assert.True(t, applied)

	// An older write arriving late must not clobber the newer one.
	applied, err = st.SaveOverride(ctx, model.Override{Parameter: "max_pressure", Value: "5.5", Unit: "bar", SavedAt: tEarly})
	require.NoError(t, err)
	assert.False(t, applied)

	ov, err := st.GetOverride(ctx, "max_pressure")
	require.NoError(t, err)
	require.NotNil(t, ov)
	assert.Equal(t, "6.0", ov.Value)

	// A genuinely newer write replaces it.
	applied, err = st.SaveOverride(ctx, model.Override{Parameter: "max_pressure", Value: "6.2", Unit: "bar", SavedAt: tLate.Add(time.Minute)})
	require.NoError(t, err)
	assert.True(t, applied)

	ov, err = st.GetOverride(ctx, "max_pressure")
	require.NoError(t, err)
	assert.Equal(t, "6.2", ov.Value)
}

func TestSQLite_GetOverrideMissing(t *testing.T) {
	st := newTestSQLiteStore(t)
	ov, err := st.GetOverride(context.Background(), "max_pressure")
	require.NoError(t, err)
	assert.Nil(t, ov)
}

func TestSQLite_Snapshot(t *testing.T) {
	ctx := context.Background()
	st := newTestSQLiteStore(t)

	_, err := st.AppendVariants(ctx, []model.Variant{
		{Parameter: "cap_diameter", Value: "12.5", Unit: "mm", SourceType: model.SourceDOCX, UploadedAt: tEarly},
		{Parameter: "cap_diameter", Value: "12.7", Unit: "mm", SourceType: model.SourcePDF, UploadedAt: tLate},
		{Parameter: "tear_size_limit", Value: "2.8", Unit: "mm", SourceType: model.SourceDOCX, UploadedAt: tEarly},
	})
	require.NoError(t, err)
	_, err = st.SaveOverride(ctx, model.Override{Parameter: "max_pressure", Value: "6.0", Unit: "bar", SavedAt: tLate})
	require.NoError(t, err)

	snap, err := st.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Variants, 2)
	assert.Len(t, snap.Variants["cap_diameter"], 2)
	assert.Len(t, snap.Variants["tear_size_limit"], 1)
	require.Contains(t, snap.Overrides, "max_pressure")
	assert.Equal(t, "6.0", snap.Overrides["max_pressure"].Value)
}

func TestSQLite_DefectResultsRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := newTestSQLiteStore(t)

	results := []model.ClassifiedDefect{
		{
			DefectRecord: model.DefectRecord{ID: "d1", DefectType: "tear", MeasuredValue: 2, Unit: "mm"},
			Decision:     model.DecisionRepairable,
			JudgedAgainst: []model.SpecBasis{
				{Parameter: "tear_size_limit", Value: "2.8", Unit: "mm", SourceType: model.SourceDOCX},
			},
		},
		{
			DefectRecord: model.DefectRecord{ID: "d2", DefectType: "crack"},
			Decision:     model.DecisionNotRepairable,
		},
	}
	require.NoError(t, st.SaveDefectResults(ctx, results))

	got, err := st.LatestDefectResults(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "d1", got[0].ID)
	assert.Equal(t, model.DecisionRepairable, got[0].Decision)
	assert.Equal(t, "tear_size_limit", got[0].JudgedAgainst[0].Parameter)

	// A new batch replaces the previous one.
	require.NoError(t, st.SaveDefectResults(ctx, results[1:]))
	got, err = st.LatestDefectResults(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "d2", got[0].ID)
}
