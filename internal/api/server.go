package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"creative-matrix/internal/config"
	"creative-matrix/internal/export"
	"creative-matrix/internal/generate"
	"creative-matrix/internal/matrix"
	"creative-matrix/internal/models"
	"creative-matrix/internal/platformspec"
	"creative-matrix/internal/ratelimit"
	"creative-matrix/internal/telemetry"
)

// Store is the slice of the Postgres store the API writes directly: creation
// and the two non-lifecycle mutations. It may be nil when running without
// Postgres; lifecycle transitions are mirrored by the coordinator's history.
type Store interface {
	Insert(ctx context.Context, c *models.Combination) error
	SetFavourite(ctx context.Context, id string, favourite bool) error
	SetScore(ctx context.Context, id string, score float64) error
}

// Server wires HTTP handlers for the matrix API.
type Server struct {
	cfg      config.Config
	col      *matrix.Collection
	coord    *generate.Coordinator
	pipeline *export.Pipeline
	specs    *platformspec.Registry
	limiter  *ratelimit.TokenBucket
	db       Store
}

// New constructs the API server. limiter and db may be nil.
func New(cfg config.Config, col *matrix.Collection, coord *generate.Coordinator, pipeline *export.Pipeline, specs *platformspec.Registry, limiter *ratelimit.TokenBucket, db Store) *Server {
	return &Server{
		cfg:      cfg,
		col:      col,
		coord:    coord,
		pipeline: pipeline,
		specs:    specs,
		limiter:  limiter,
		db:       db,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Post("/combinations", s.handleCreate)
	r.Get("/combinations", s.handleList)
	r.Get("/combinations/{id}", s.handleGet)
	r.Post("/combinations/{id}/favourite", s.handleFavourite)
	r.Post("/combinations/{id}/score", s.handleScore)
	r.Post("/combinations/{id}/generate", s.handleGenerateOne)
	r.Post("/combinations/generate", s.handleGenerateAll)
	r.Post("/combinations/{id}/timeout", s.handleTimeout)

	r.Post("/callbacks/render/{id}/progress", s.handleRenderProgress)
	r.Post("/callbacks/render/{id}/complete", s.handleRenderComplete)
	r.Post("/callbacks/render/{id}/fail", s.handleRenderFail)

	r.Post("/exports", s.handleExport)
	r.Get("/platform-specs/{platform}/{placement}", s.handlePlatformSpec)

	return r
}

type createRequest struct {
	Assignments []models.Assignment `json:"assignments"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	combo, err := s.col.Create(req.Assignments)
	if err != nil {
		writeError(w, err)
		return
	}
	if s.db != nil {
		_ = s.db.Insert(r.Context(), combo)
	}
	writeJSON(w, http.StatusCreated, combo)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	mode, err := matrix.ParseSortMode(r.URL.Query().Get("sort"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ordered := matrix.Order(s.col.Snapshot(), mode)
	writeJSON(w, http.StatusOK, map[string]any{"combinations": ordered})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	combo, err := s.col.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, combo)
}

func (s *Server) handleFavourite(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	favourite, err := s.col.ToggleFavourite(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if s.db != nil {
		_ = s.db.SetFavourite(r.Context(), id, favourite)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"favourite": favourite})
}

type scoreRequest struct {
	Score float64 `json:"score"`
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	var req scoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.col.AttachScore(id, req.Score); err != nil {
		writeError(w, err)
		return
	}
	if s.db != nil {
		_ = s.db.SetScore(r.Context(), id, req.Score)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "scored"})
}

func (s *Server) handleGenerateOne(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r) {
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.coord.GenerateOne(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": models.StatusGenerating})
}

func (s *Server) handleGenerateAll(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r) {
		return
	}
	outcomes := s.coord.GenerateAll(r.Context())
	writeJSON(w, http.StatusAccepted, map[string]any{"outcomes": outcomes})
}

func (s *Server) handleTimeout(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.ForceTimeout(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "timed_out"})
}

type progressCallback struct {
	Progress float64 `json:"progress"`
}

func (s *Server) handleRenderProgress(w http.ResponseWriter, r *http.Request) {
	var cb progressCallback
	if err := json.NewDecoder(r.Body).Decode(&cb); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := s.coord.HandleProgress(r.Context(), chi.URLParam(r, "id"), cb.Progress); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type completeCallback struct {
	PreviewURL string `json:"preview_url"`
}

func (s *Server) handleRenderComplete(w http.ResponseWriter, r *http.Request) {
	var cb completeCallback
	if err := json.NewDecoder(r.Body).Decode(&cb); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := s.coord.HandleComplete(r.Context(), chi.URLParam(r, "id"), cb.PreviewURL); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type failCallback struct {
	Reason string `json:"reason"`
}

func (s *Server) handleRenderFail(w http.ResponseWriter, r *http.Request) {
	var cb failCallback
	if err := json.NewDecoder(r.Body).Decode(&cb); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := s.coord.HandleFail(r.Context(), chi.URLParam(r, "id"), cb.Reason); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type exportRequest struct {
	IDs             []string            `json:"ids"`
	Target          string              `json:"target"`
	FormatOverrides map[string][]string `json:"format_overrides,omitempty"`
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if len(req.IDs) == 0 {
		http.Error(w, "ids is required", http.StatusBadRequest)
		return
	}
	target, err := export.ParseTarget(req.Target)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var combos []*models.Combination
	var missing []export.Outcome
	for _, id := range req.IDs {
		combo, err := s.col.Get(id)
		if err != nil {
			missing = append(missing, export.Outcome{CombinationID: id, Status: "skipped", Reason: "not found"})
			continue
		}
		combos = append(combos, combo)
	}

	if len(req.IDs) == 1 && len(combos) == 1 {
		outcome, err := s.pipeline.ExportOne(r.Context(), combos[0], target, req.FormatOverrides)
		if err != nil {
			writeJSON(w, statusFor(err), map[string]any{"outcomes": []export.Outcome{outcome}, "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"outcomes": []export.Outcome{outcome}})
		return
	}

	outcomes := s.pipeline.ExportMany(r.Context(), combos, target, req.FormatOverrides)
	outcomes = append(outcomes, missing...)
	writeJSON(w, http.StatusOK, map[string]any{"outcomes": outcomes})
}

func (s *Server) handlePlatformSpec(w http.ResponseWriter, r *http.Request) {
	spec, err := s.specs.Resolve(chi.URLParam(r, "platform"), chi.URLParam(r, "placement"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, spec)
}

// allow runs the per-tenant rate limiter for generate endpoints.
func (s *Server) allow(w http.ResponseWriter, r *http.Request) bool {
	if s.limiter == nil {
		return true
	}
	tenant := tenantFromRequest(r)
	allowed, _, err := s.limiter.Allow(r.Context(), fmt.Sprintf("generate:%s", tenant))
	if err != nil {
		http.Error(w, "rate limit error", http.StatusInternalServerError)
		return false
	}
	if !allowed {
		telemetry.RateLimitRejects.Inc()
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return false
	}
	return true
}

func tenantFromRequest(r *http.Request) string {
	if v := r.Header.Get("X-Tenant-ID"); v != "" {
		return v
	}
	return "default"
}

// statusFor maps the domain error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	var verr *matrix.ValidationError
	var rerr *matrix.RangeError
	var nferr *matrix.NotFoundError
	var cerr *matrix.ConflictError
	var uerr *platformspec.UnknownPlatformError
	var perr *export.NotCompletedError
	switch {
	case errors.As(err, &verr), errors.As(err, &rerr), errors.As(err, &uerr):
		return http.StatusBadRequest
	case errors.As(err, &nferr):
		return http.StatusNotFound
	case errors.As(err, &cerr), errors.As(err, &perr):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), statusFor(err))
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
