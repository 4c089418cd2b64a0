package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nightfury00918/Hitachi-spec-pipeline/internal/ingest"
	"github.com/nightfury00918/Hitachi-spec-pipeline/internal/merge"
	"github.com/nightfury00918/Hitachi-spec-pipeline/internal/model"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the spec reconciliation HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		defaultStrategy, err := model.ParseStrategy(cfg.Merge.DefaultStrategy)
		if err != nil {
			return eris.Wrap(err, "serve: default strategy")
		}

		limiter := rate.NewLimiter(rate.Limit(cfg.Server.IngestRatePerSec), cfg.Server.IngestBurst)
		mux := buildMux(env, limiter, defaultStrategy)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		}

		go drainOnDone(ctx, srv, 10*time.Second)

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// drainOnDone shuts the server down once ctx is canceled. By then the signal
// context is already dead, so draining in-flight requests needs a fresh
// deadline of its own.
func drainOnDone(ctx context.Context, srv *http.Server, timeout time.Duration) {
	<-ctx.Done()
	zap.L().Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zap.L().Warn("server shutdown", zap.Error(err))
	}
}

// buildMux wires all API routes.
func buildMux(env *pipelineEnv, ingestLimiter *rate.Limiter, defaultStrategy model.Strategy) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("POST /ingest", func(w http.ResponseWriter, r *http.Request) {
		if ingestLimiter != nil && !ingestLimiter.Allow() {
			http.Error(w, `{"error":"ingest rate limit exceeded"}`, http.StatusTooManyRequests)
			return
		}

		var req struct {
			Variants []ingest.VariantInput `json:"variants"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if len(req.Variants) == 0 {
			http.Error(w, `{"error":"variants is required"}`, http.StatusBadRequest)
			return
		}

		result, err := env.Ingestor.IngestBatch(r.Context(), req.Variants)
		if err != nil {
			zap.L().Error("serve: ingest failed", zap.Error(err))
			http.Error(w, `{"error":"ingest failed"}`, http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusAccepted, result)
	})

	mux.HandleFunc("GET /specs", func(w http.ResponseWriter, r *http.Request) {
		view := r.URL.Query().Get("view")
		if view == "" {
			view = "merged"
		}

		strategy := defaultStrategy
		if s := r.URL.Query().Get("strategy"); s != "" {
			parsed, err := model.ParseStrategy(s)
			if err != nil {
				http.Error(w, `{"error":"invalid strategy"}`, http.StatusBadRequest)
				return
			}
			strategy = parsed
		}

		// Both shapes derive from the same snapshot-driven projection; the
		// raw view and the all strategy share the grouped shape.
		if view == "raw" || strategy == model.StrategyAll {
			grouped, err := merge.ProjectGrouped(r.Context(), env.Store)
			if err != nil {
				zap.L().Error("serve: grouped projection failed", zap.Error(err))
				http.Error(w, `{"error":"projection failed"}`, http.StatusInternalServerError)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"view":   "grouped",
				"groups": grouped,
			})
			return
		}

		proj, err := merge.Project(r.Context(), env.Store, strategy)
		if err != nil {
			zap.L().Error("serve: projection failed", zap.Error(err))
			http.Error(w, `{"error":"projection failed"}`, http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"view":     "merged",
			"strategy": strategy,
			"records":  proj.Records(),
		})
	})

	mux.HandleFunc("POST /update-specs", func(w http.ResponseWriter, r *http.Request) {
		// One override write per distinct parameter key. Duplicate keys in
		// one request resolve last-in-request-wins at JSON decode time.
		var req map[string]struct {
			Value string `json:"value"`
			Unit  string `json:"unit"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req) == 0 {
			http.Error(w, `{"error":"payload must be a non-empty map of parameter updates"}`, http.StatusBadRequest)
			return
		}

		var accepted []string
		rejected := map[string]string{}
		for param, update := range req {
			def := env.Registry.ByName(param)
			if def == nil {
				rejected[param] = model.ErrUnknownParameter.Error()
				continue
			}
			if update.Value == "" {
				rejected[param] = "empty value"
				continue
			}

			// saved_at is assigned here, at write time: last-write-wins is
			// decided by this timestamp, not by request arrival order.
			applied, err := env.Store.SaveOverride(r.Context(), model.Override{
				Parameter: def.Name,
				Value:     update.Value,
				Unit:      update.Unit,
				SavedAt:   time.Now().UTC(),
			})
			if err != nil {
				zap.L().Error("serve: save override failed",
					zap.String("parameter", def.Name),
					zap.Error(err),
				)
				rejected[param] = "write failed"
				continue
			}
			if !applied {
				rejected[param] = "superseded by a newer override"
				continue
			}
			accepted = append(accepted, def.Name)
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"accepted": accepted,
			"rejected": rejected,
		})
	})

	mux.HandleFunc("POST /classify", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Defects []model.DefectRecord `json:"defects"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if len(req.Defects) == 0 {
			http.Error(w, `{"error":"defects is required"}`, http.StatusBadRequest)
			return
		}

		// Classification always judges against priority semantics; the all
		// strategy has no single value to compare with.
		proj, err := merge.Project(r.Context(), env.Store, model.StrategyPriority)
		if err != nil {
			zap.L().Error("serve: projection failed", zap.Error(err))
			http.Error(w, `{"error":"projection failed"}`, http.StatusInternalServerError)
			return
		}

		results := env.Classifier.ClassifyBatch(req.Defects, proj)
		if err := env.Store.SaveDefectResults(r.Context(), results); err != nil {
			zap.L().Error("serve: persist defect results failed", zap.Error(err))
		}

		writeJSON(w, http.StatusOK, map[string]any{"results": results})
	})

	mux.HandleFunc("GET /defects", func(w http.ResponseWriter, r *http.Request) {
		results, err := env.Store.LatestDefectResults(r.Context())
		if err != nil {
			zap.L().Error("serve: load defect results failed", zap.Error(err))
			http.Error(w, `{"error":"load failed"}`, http.StatusInternalServerError)
			return
		}
		if results == nil {
			http.Error(w, `{"error":"no defect results available"}`, http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": results})
	})

	mux.HandleFunc("GET /download/master", func(w http.ResponseWriter, r *http.Request) {
		strategy := defaultStrategy
		if s := r.URL.Query().Get("strategy"); s != "" {
			parsed, err := model.ParseStrategy(s)
			if err != nil {
				http.Error(w, `{"error":"invalid strategy"}`, http.StatusBadRequest)
				return
			}
			strategy = parsed
		}

		proj, err := merge.Project(r.Context(), env.Store, strategy)
		if err != nil {
			zap.L().Error("serve: projection failed", zap.Error(err))
			http.Error(w, `{"error":"projection failed"}`, http.StatusInternalServerError)
			return
		}

		switch r.URL.Query().Get("format") {
		case "xlsx":
			w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
			w.Header().Set("Content-Disposition", `attachment; filename="master_specs.xlsx"`)
			if err := merge.ExportXLSX(w, proj); err != nil {
				zap.L().Error("serve: xlsx export failed", zap.Error(err))
			}
		default:
			w.Header().Set("Content-Type", "text/csv")
			w.Header().Set("Content-Disposition", `attachment; filename="master_specs.csv"`)
			if err := merge.ExportCSV(w, proj); err != nil {
				zap.L().Error("serve: csv export failed", zap.Error(err))
			}
		}
	})

	return mux
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body) //nolint:errcheck
}
