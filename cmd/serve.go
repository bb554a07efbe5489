package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/thriftstack/listing-cli/internal/enrich"
	"github.com/thriftstack/listing-cli/internal/monitoring"
	"github.com/thriftstack/listing-cli/internal/undo"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook server for generation requests",
	Long:  "Hosts the long-lived enrichment core: generation and retry webhooks, undo endpoints, image regrouping, run lookup, and health/stats. Retry and undo operate on the state accumulated by this process.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		collector := monitoring.NewCollector(e.Store)
		alerter := monitoring.NewAlerter(cfg.Monitor)
		go monitoring.NewChecker(collector, alerter, cfg.Monitor).Run(ctx)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newServeRouter(e, collector),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			srv.Shutdown(sctx) //nolint:errcheck
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// newServeRouter builds the HTTP surface over one process's env. Retry
// and undo live here because the tracker, enriched membership, and
// snapshots are in-memory state of the host process.
func newServeRouter(e *env, collector *monitoring.Collector) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		snap, err := collector.Collect(r.Context())
		if err != nil {
			zap.L().Error("stats collection failed", zap.Error(err))
			http.Error(w, `{"error":"stats collection failed"}`, http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})

	// Read-only view of the lock state for UI polling.
	r.Get("/locks", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, e.Orch.Guard().Snapshot())
	})

	r.Post("/webhook/generate", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			IDs []string `json:"ids"`
		}
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
				return
			}
		}

		// Run generation asynchronously; the batch lock rejects
		// overlapping requests.
		go runBulk("webhook generation", func(ctx context.Context) (*enrich.BulkResult, error) {
			return e.Orch.GenerateBulk(ctx, enrich.BulkOptions{Selection: req.IDs})
		})

		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	})

	r.Post("/webhook/retry", func(w http.ResponseWriter, r *http.Request) {
		go runBulk("webhook retry", e.Orch.RetryFailed)
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	})

	r.Post("/undo/single/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := e.Undo.UndoItem(r.Context(), id); err != nil {
			writeUndoError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"restored": id})
	})

	r.Post("/undo/bulk", func(w http.ResponseWriter, r *http.Request) {
		res, err := e.Undo.UndoBulk(r.Context())
		if err != nil {
			writeUndoError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	})

	r.Post("/undo/structural", func(w http.ResponseWriter, r *http.Request) {
		res, err := e.Undo.UndoStructural(r.Context())
		if err != nil {
			writeUndoError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	})

	// Image regrouping: the previous placements are captured as one
	// structural snapshot before any tuple is written.
	r.Post("/images/move", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Moves []struct {
				ImageID  string `json:"image_id"`
				ParentID string `json:"parent_id"`
				Position int    `json:"position"`
			} `json:"moves"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Moves) == 0 {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}

		prev := make([]undo.Move, 0, len(req.Moves))
		for _, mv := range req.Moves {
			parentID, position, err := e.Store.GetImagePlacement(r.Context(), mv.ImageID)
			if err != nil {
				http.Error(w, `{"error":"image not found"}`, http.StatusNotFound)
				return
			}
			prev = append(prev, undo.Move{
				EntityID:     mv.ImageID,
				PrevParentID: parentID,
				PrevPosition: position,
			})
		}
		e.Undo.CaptureStructural(prev)

		for _, mv := range req.Moves {
			if err := e.Store.ReassignImage(r.Context(), mv.ImageID, mv.ParentID, mv.Position); err != nil {
				zap.L().Error("image move failed",
					zap.String("image", mv.ImageID),
					zap.Error(err),
				)
				// Applied moves stay revertible via the snapshot.
				http.Error(w, `{"error":"move failed"}`, http.StatusInternalServerError)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]int{"moved": len(req.Moves)})
	})

	r.Get("/runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		run, err := e.Store.GetRun(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			http.Error(w, `{"error":"run not found"}`, http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, run)
	})

	return r
}

// runBulk executes a bulk operation detached from the request and logs
// its outcome.
func runBulk(label string, fn func(context.Context) (*enrich.BulkResult, error)) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	res, err := fn(ctx)
	if err != nil {
		zap.L().Error(label+" failed", zap.Error(err))
		return
	}
	zap.L().Info(label+" complete",
		zap.Int("success", res.SuccessCount),
		zap.Int("errors", res.ErrorCount),
		zap.Int("remaining", res.Remaining),
	)
}

func writeUndoError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, undo.ErrSnapshotExpired):
		http.Error(w, `{"error":"snapshot expired"}`, http.StatusGone)
	case errors.Is(err, undo.ErrNoSnapshot):
		http.Error(w, `{"error":"no snapshot"}`, http.StatusNotFound)
	default:
		http.Error(w, `{"error":"undo failed"}`, http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
