// Package ingest is the write path for extracted observations: it validates
// tuples produced by the upstream document extractors against the controlled
// vocabulary and appends them to the variant store.
package ingest

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nightfury00918/Hitachi-spec-pipeline/internal/model"
	"github.com/nightfury00918/Hitachi-spec-pipeline/internal/store"
	"github.com/nightfury00918/Hitachi-spec-pipeline/internal/vocab"
)

// VariantInput is one extracted tuple as delivered by an upstream extractor.
type VariantInput struct {
	Parameter  string     `json:"parameter"`
	Value      string     `json:"value"`
	Unit       string     `json:"unit,omitempty"`
	SourceType string     `json:"source_type"`
	Origin     string     `json:"origin,omitempty"`
	UploadedAt *time.Time `json:"uploaded_at,omitempty"`
	Raw        string     `json:"raw,omitempty"`
}

// Rejection explains why one input was not appended.
type Rejection struct {
	Parameter string `json:"parameter"`
	Reason    string `json:"reason"`
}

// BatchResult summarizes one ingested batch.
type BatchResult struct {
	Accepted   int         `json:"accepted"`
	Rejections []Rejection `json:"rejections,omitempty"`
}

// Ingestor validates and appends variant batches.
type Ingestor struct {
	st       store.Store
	registry *vocab.Registry
	now      func() time.Time // injectable for testing
}

// New creates an Ingestor.
func New(st store.Store, registry *vocab.Registry) *Ingestor {
	return &Ingestor{st: st, registry: registry, now: time.Now}
}

// WithNow sets a fixed clock for testing.
func (i *Ingestor) WithNow(now func() time.Time) *Ingestor {
	i.now = now
	return i
}

// IngestBatch validates every input and appends the accepted ones in one
// transaction. A bad tuple is rejected per-row and never blocks the rest of
// the batch. Fully identical (parameter, value, unit, source, raw, origin)
// tuples within one batch collapse to a single append; tuples that differ in
// any field, value included, are all kept — a value conflict is history to
// surface, never a duplicate. Re-uploads in later batches stay separate rows.
func (i *Ingestor) IngestBatch(ctx context.Context, inputs []VariantInput) (*BatchResult, error) {
	result := &BatchResult{}
	seen := make(map[[6]string]struct{}, len(inputs))
	var variants []model.Variant

	for _, in := range inputs {
		param := i.registry.ByName(in.Parameter)
		if param == nil {
			result.Rejections = append(result.Rejections, Rejection{
				Parameter: in.Parameter,
				Reason:    model.ErrUnknownParameter.Error(),
			})
			continue
		}
		if in.Value == "" {
			result.Rejections = append(result.Rejections, Rejection{
				Parameter: in.Parameter,
				Reason:    "empty value",
			})
			continue
		}
		sourceType, err := model.ParseSourceType(in.SourceType)
		if err != nil {
			result.Rejections = append(result.Rejections, Rejection{
				Parameter: in.Parameter,
				Reason:    "invalid source type " + in.SourceType,
			})
			continue
		}

		key := [6]string{param.Name, in.Value, vocab.NormalizeUnit(in.Unit), string(sourceType), in.Raw, in.Origin}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		uploadedAt := i.now().UTC()
		if in.UploadedAt != nil {
			uploadedAt = in.UploadedAt.UTC()
		}

		variants = append(variants, model.Variant{
			Parameter:  param.Name, // aliases normalize to the canonical name
			Value:      in.Value,
			Unit:       vocab.NormalizeUnit(in.Unit),
			SourceType: sourceType,
			Origin:     in.Origin,
			UploadedAt: uploadedAt,
			Raw:        in.Raw,
		})
	}

	n, err := i.st.AppendVariants(ctx, variants)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: append batch")
	}
	result.Accepted = n

	zap.L().Info("ingest: batch appended",
		zap.Int("accepted", result.Accepted),
		zap.Int("rejected", len(result.Rejections)),
	)
	return result, nil
}

// IngestFiles reads each path as a JSON array of VariantInput and ingests
// the files concurrently. Appends are independent per batch; one bad file
// is reported without aborting the others.
func (i *Ingestor) IngestFiles(ctx context.Context, paths []string, concurrency int) (*BatchResult, error) {
	if concurrency <= 0 {
		concurrency = 4
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var mu sync.Mutex
	total := &BatchResult{}

	for _, path := range paths {
		g.Go(func() error {
			inputs, err := readVariantFile(path)
			if err != nil {
				zap.L().Error("ingest: file skipped", zap.String("path", path), zap.Error(err))
				return nil
			}
			res, err := i.IngestBatch(gCtx, inputs)
			if err != nil {
				return eris.Wrapf(err, "ingest: %s", path)
			}
			mu.Lock()
			total.Accepted += res.Accepted
			total.Rejections = append(total.Rejections, res.Rejections...)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return total, nil
}

func readVariantFile(path string) ([]VariantInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: read %s", path)
	}
	var inputs []VariantInput
	if err := json.Unmarshal(data, &inputs); err != nil {
		return nil, eris.Wrapf(err, "ingest: parse %s", path)
	}
	return inputs, nil
}
