package main

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sells-group/geo-analyzer/internal/apperr"
	"github.com/sells-group/geo-analyzer/internal/model"
	"github.com/sells-group/geo-analyzer/internal/trace"
)

// maxBodyBytes caps a diagnosis request body.
const maxBodyBytes = 64 << 10

// reportRunner is the part of report.Engine the HTTP boundary uses.
type reportRunner interface {
	Run(ctx context.Context, req model.DiagnosisRequest) (*model.Report, error)
	Trace(taskID string) trace.Trace
}

// newRouter builds the HTTP surface: diagnosis submission, trace lookup,
// health and Prometheus metrics.
func newRouter(runner reportRunner, gatherer prometheus.Gatherer, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/diagnosis", func(w http.ResponseWriter, req *http.Request) {
		var payload model.DiagnosisRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxBodyBytes)).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		report, err := runner.Run(req.Context(), payload)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, report)
		case apperr.IsSensitive(err):
			writeError(w, http.StatusBadRequest, err.Error())
		case apperr.IsValidation(err):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			zap.L().Error("diagnosis failed",
				zap.String("request_id", middleware.GetReqID(req.Context())),
				zap.Error(err),
			)
			writeError(w, http.StatusInternalServerError, "diagnosis failed")
		}
	})

	r.Get("/trace/{taskID}", func(w http.ResponseWriter, req *http.Request) {
		tr := runner.Trace(chi.URLParam(req, "taskID"))
		if tr.Empty() {
			writeError(w, http.StatusNotFound, "trace not found")
			return
		}
		writeJSON(w, http.StatusOK, tr)
	})

	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
