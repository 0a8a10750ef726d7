package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/studymate/assessor/internal/i18n"
	"github.com/studymate/assessor/internal/metrics"
	"github.com/studymate/assessor/internal/model"
	"github.com/studymate/assessor/internal/service"
)

// ResultStore reads persisted results.
type ResultStore interface {
	GetResult(ctx context.Context, id int64) (*model.ResultRecord, error)
	GetResultBySession(ctx context.Context, sessionID string) (*model.ResultRecord, error)
	ListResults(ctx context.Context, f model.ResultFilter) ([]model.ResultRecord, error)
}

// HealthCheck is one dependency probed by /healthz.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	attempts *service.Manager
	results  ResultStore
	checks   []HealthCheck
}

// New creates a new Handler.
func New(m *service.Manager, results ResultStore, checks ...HealthCheck) *Handler {
	return &Handler{attempts: m, results: results, checks: checks}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Post("/assessments", h.handleStart)
		r.Get("/assessments/{id}", h.handleSnapshot)
		r.Put("/assessments/{id}/answers/{questionID}", h.handleAnswer)
		r.Post("/assessments/{id}/submit", h.handleSubmit)
		r.Post("/assessments/{id}/pause", h.handlePause)
		r.Post("/assessments/{id}/resume", h.handleResume)
		r.Get("/assessments/{id}/result", h.handleResult)
		r.Get("/results", h.handleListResults)
		r.Get("/results/{id}", h.handleGetResult)
	})
}

type startResponse struct {
	service.Snapshot
	Message string `json:"message"`
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	var req service.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, r, http.StatusBadRequest, "ErrBadRequestBody", err)
		return
	}

	snap, err := h.attempts.Start(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, startResponse{
		Snapshot: snap,
		Message:  i18n.Tp(r.Context(), "QuestionsReady", len(snap.Questions)),
	})
}

type snapshotResponse struct {
	service.Snapshot
	Message string `json:"message,omitempty"`
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.attempts.Snapshot(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := snapshotResponse{Snapshot: snap}
	if snap.Trigger == metrics.TriggerExpired {
		resp.Message = i18n.T(r.Context(), "TimeUp")
	}
	writeJSON(w, http.StatusOK, resp)
}

type answerRequest struct {
	Answer *model.Answer `json:"answer"`
}

func (h *Handler) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, r, http.StatusBadRequest, "ErrBadRequestBody", err)
		return
	}
	if req.Answer == nil {
		writeMessage(w, r, http.StatusBadRequest, "ErrInvalidInput", errors.New("answer is required"))
		return
	}

	err := h.attempts.RecordAnswer(chi.URLParam(r, "id"), chi.URLParam(r, "questionID"), *req.Answer)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type resultResponse struct {
	Result      model.ScoreResult    `json:"result"`
	Message     string               `json:"message"`
	Persistence service.PersistState `json:"persistence,omitempty"`
	ResultID    int64                `json:"result_id,omitempty"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	res, err := h.attempts.Submit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resultResponse{
		Result:  res,
		Message: scoreSummary(r.Context(), res),
	})
}

func (h *Handler) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := h.attempts.Pause(chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleResume(w http.ResponseWriter, r *http.Request) {
	if err := h.attempts.Resume(chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := h.attempts.Result(id)
	if errors.Is(err, service.ErrNotFound) {
		h.writeStoredResult(w, r, id, err)
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	// A failed save does not hide the result.
	state, resultID, err := h.attempts.Persisted(id)
	if err != nil && !errors.Is(err, service.ErrPersistence) {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resultResponse{
		Result:      res,
		Message:     scoreSummary(r.Context(), res),
		Persistence: state,
		ResultID:    resultID,
	})
}

// writeStoredResult serves the result of an attempt that is no longer held in
// memory. notFound is reported when nothing was persisted either.
func (h *Handler) writeStoredResult(w http.ResponseWriter, r *http.Request, sessionID string, notFound error) {
	rec, err := h.results.GetResultBySession(r.Context(), sessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rec == nil {
		writeError(w, r, notFound)
		return
	}
	writeJSON(w, http.StatusOK, resultResponse{
		Result:      rec.Result,
		Message:     scoreSummary(r.Context(), rec.Result),
		Persistence: service.PersistSaved,
		ResultID:    rec.ID,
	})
}

func (h *Handler) handleListResults(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := model.ResultFilter{
		Mode:      model.Mode(q.Get("mode")),
		SubjectID: q.Get("subject"),
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeMessage(w, r, http.StatusBadRequest, "ErrInvalidInput", errors.New("invalid limit"))
			return
		}
		f.Limit = limit
	}

	records, err := h.results.ListResults(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if records == nil {
		records = []model.ResultRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) handleGetResult(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeMessage(w, r, http.StatusBadRequest, "ErrInvalidInput", err)
		return
	}
	rec, err := h.results.GetResult(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rec == nil {
		writeMessage(w, r, http.StatusNotFound, "ErrResultNotFound", nil)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	report := map[string]string{}
	for _, c := range h.checks {
		if err := c.Check(r.Context()); err != nil {
			slog.Warn("health check failed", "check", c.Name, "error", err)
			report[c.Name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		report[c.Name] = "ok"
	}
	report["status"] = "ok"
	if status != http.StatusOK {
		report["status"] = "degraded"
	}
	writeJSON(w, status, report)
}

func scoreSummary(ctx context.Context, res model.ScoreResult) string {
	return i18n.Td(ctx, "ScoreSummary", map[string]any{
		"Score":      res.TotalScore,
		"Possible":   res.TotalPossible,
		"Percentage": res.Percentage,
	})
}
