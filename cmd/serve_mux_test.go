//go:build !integration

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nightfury00918/Hitachi-spec-pipeline/internal/classify"
	"github.com/nightfury00918/Hitachi-spec-pipeline/internal/ingest"
	"github.com/nightfury00918/Hitachi-spec-pipeline/internal/model"
	"github.com/nightfury00918/Hitachi-spec-pipeline/internal/store"
	"github.com/nightfury00918/Hitachi-spec-pipeline/internal/vocab"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestEnv(t *testing.T) *pipelineEnv {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	registry := vocab.Default()
	rules := classify.DefaultTable()
	return &pipelineEnv{
		Store:      st,
		Registry:   registry,
		Rules:      rules,
		Ingestor:   ingest.New(st, registry),
		Classifier: classify.New(rules, registry),
	}
}

func newTestMux(t *testing.T) (*http.ServeMux, *pipelineEnv) {
	t.Helper()
	env := newTestEnv(t)
	return buildMux(env, nil, model.StrategyPriority), env
}

func postJSON(t *testing.T, mux *http.ServeMux, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func getPath(mux *http.ServeMux, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func TestBuildMux_HealthEndpoint(t *testing.T) {
	mux, _ := newTestMux(t)

	rr := getPath(mux, "/health")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestBuildMux_IngestThenSpecs(t *testing.T) {
	mux, _ := newTestMux(t)

	rr := postJSON(t, mux, "/ingest", map[string]any{
		"variants": []map[string]any{
			{"parameter": "tear_size_limit", "value": "2.8", "unit": "mm", "source_type": "docx", "uploaded_at": "2025-11-03T10:00:00Z"},
			{"parameter": "tear_size_limit", "value": "3.0", "unit": "mm", "source_type": "pdf", "uploaded_at": "2025-11-03T11:00:00Z"},
			{"parameter": "bolt_torque", "value": "40", "source_type": "pdf"},
		},
	})
	assert.Equal(t, http.StatusAccepted, rr.Code)

	var ingestResp struct {
		Accepted   int `json:"accepted"`
		Rejections []struct {
			Parameter string `json:"parameter"`
		} `json:"rejections"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &ingestResp))
	assert.Equal(t, 2, ingestResp.Accepted)
	require.Len(t, ingestResp.Rejections, 1)
	assert.Equal(t, "bolt_torque", ingestResp.Rejections[0].Parameter)

	rr = getPath(mux, "/specs")
	require.Equal(t, http.StatusOK, rr.Code)
	var specsResp struct {
		View    string               `json:"view"`
		Records []model.MergedRecord `json:"records"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &specsResp))
	assert.Equal(t, "merged", specsResp.View)
	require.Len(t, specsResp.Records, 1)
	assert.Equal(t, "2.8", specsResp.Records[0].Chosen.Value)

	rr = getPath(mux, "/specs?strategy=latest")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &specsResp))
	assert.Equal(t, "3.0", specsResp.Records[0].Chosen.Value)
}

func TestBuildMux_SpecsGroupedView(t *testing.T) {
	mux, _ := newTestMux(t)

	postJSON(t, mux, "/ingest", map[string]any{
		"variants": []map[string]any{
			{"parameter": "cap_diameter", "value": "12.5", "unit": "mm", "source_type": "docx"},
			{"parameter": "cap_diameter", "value": "12.7", "unit": "mm", "source_type": "image"},
		},
	})

	for _, path := range []string{"/specs?view=raw", "/specs?strategy=all"} {
		rr := getPath(mux, path)
		require.Equal(t, http.StatusOK, rr.Code, path)
		var resp struct {
			View   string                     `json:"view"`
			Groups map[string][]model.Variant `json:"groups"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, "grouped", resp.View, path)
		assert.Len(t, resp.Groups["cap_diameter"], 2, path)
	}
}

func TestBuildMux_SpecsInvalidStrategy(t *testing.T) {
	mux, _ := newTestMux(t)
	rr := getPath(mux, "/specs?strategy=newest")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestBuildMux_UpdateSpecs(t *testing.T) {
	mux, _ := newTestMux(t)

	rr := postJSON(t, mux, "/update-specs", map[string]any{
		"max_pressure": map[string]string{"value": "6.0", "unit": "bar"},
		"bolt_torque":  map[string]string{"value": "40", "unit": "nm"},
		"cap_diameter": map[string]string{"value": ""},
	})
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Accepted []string          `json:"accepted"`
		Rejected map[string]string `json:"rejected"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, []string{"max_pressure"}, resp.Accepted)
	assert.Contains(t, resp.Rejected["bolt_torque"], "unknown parameter")
	assert.Contains(t, resp.Rejected["cap_diameter"], "empty value")

	// The override is immediately visible and marked USER.
	rr = getPath(mux, "/specs")
	var specsResp struct {
		Records []model.MergedRecord `json:"records"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &specsResp))
	require.Len(t, specsResp.Records, 1)
	assert.Equal(t, model.SourceUser, specsResp.Records[0].Chosen.SourceType)
	assert.Equal(t, "6.0", specsResp.Records[0].Chosen.Value)
}

func TestBuildMux_ClassifyAndDefects(t *testing.T) {
	mux, _ := newTestMux(t)

	// No results persisted yet.
	rr := getPath(mux, "/defects")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	postJSON(t, mux, "/ingest", map[string]any{
		"variants": []map[string]any{
			{"parameter": "tear_size_limit", "value": "2.8", "unit": "mm", "source_type": "docx"},
		},
	})

	rr = postJSON(t, mux, "/classify", map[string]any{
		"defects": []map[string]any{
			{"id": "d1", "defect_type": "tear", "measured_value": 2.0, "unit": "mm"},
			{"id": "d2", "defect_type": "tear", "measured_value": 4.0, "unit": "mm"},
			{"id": "d3", "defect_type": "scratch", "measured_value": 0.4, "unit": "um"},
		},
	})
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Results []model.ClassifiedDefect `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 3)
	assert.Equal(t, model.DecisionRepairable, resp.Results[0].Decision)
	assert.Equal(t, model.DecisionNotRepairable, resp.Results[1].Decision)
	assert.Equal(t, model.DecisionInsufficientData, resp.Results[2].Decision)

	// Persisted batch is readable back.
	rr = getPath(mux, "/defects")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Len(t, resp.Results, 3)
}

func TestBuildMux_DownloadMaster(t *testing.T) {
	mux, _ := newTestMux(t)

	postJSON(t, mux, "/ingest", map[string]any{
		"variants": []map[string]any{
			{"parameter": "cap_diameter", "value": "12.5", "unit": "mm", "source_type": "docx"},
		},
	})

	rr := getPath(mux, "/download/master")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/csv", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Header().Get("Content-Disposition"), "master_specs.csv")
	lines := strings.Split(strings.TrimSpace(rr.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[1], "cap_diameter,12.5,mm,DOCX"))

	rr = getPath(mux, "/download/master?format=xlsx")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "spreadsheetml")
}

func TestBuildMux_IngestRateLimit(t *testing.T) {
	env := newTestEnv(t)
	mux := buildMux(env, rate.NewLimiter(rate.Limit(0), 1), model.StrategyPriority)

	payload := map[string]any{
		"variants": []map[string]any{
			{"parameter": "cap_diameter", "value": "12.5", "source_type": "docx"},
		},
	}
	rr := postJSON(t, mux, "/ingest", payload)
	assert.Equal(t, http.StatusAccepted, rr.Code, "burst allows the first request")

	rr = postJSON(t, mux, "/ingest", payload)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
}

func TestBuildMux_IngestBadPayload(t *testing.T) {
	mux, _ := newTestMux(t)

	req := httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader("not json"))
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = postJSON(t, mux, "/ingest", map[string]any{"variants": []any{}})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
