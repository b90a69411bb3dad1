package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/prompt-minder/promptminder/internal/auth"
	"github.com/prompt-minder/promptminder/internal/experiments"
	"github.com/prompt-minder/promptminder/internal/storage"
	"github.com/prompt-minder/promptminder/pkg/models"
)

// apiExperiments handles the collection route: list and create.
func (h *Handler) apiExperiments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.apiExperimentList(w, r)
	case http.MethodPost:
		h.apiExperimentCreate(w, r)
	default:
		h.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// apiExperiment handles item routes: /api/ab-tests/{id} and the action
// subroutes start, stop, complete, record, results, and assign.
func (h *Handler) apiExperiment(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, basePath+"/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		h.jsonError(w, "Experiment id is required", http.StatusNotFound)
		return
	}
	id := parts[0]

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			h.apiExperimentGet(w, r, id)
		case http.MethodPatch, http.MethodPut:
			h.apiExperimentUpdate(w, r, id)
		case http.MethodDelete:
			h.apiExperimentDelete(w, r, id)
		default:
			h.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	if len(parts) != 2 {
		h.jsonError(w, "Not found", http.StatusNotFound)
		return
	}

	switch parts[1] {
	case "start":
		h.apiExperimentTransition(w, r, id, h.config.Experiments.Start)
	case "stop":
		h.apiExperimentTransition(w, r, id, h.config.Experiments.Stop)
	case "complete":
		h.apiExperimentTransition(w, r, id, h.config.Experiments.Complete)
	case "record":
		h.apiExperimentRecord(w, r, id)
	case "results":
		h.apiExperimentResults(w, r, id)
	case "assign":
		h.apiExperimentAssign(w, r, id)
	default:
		h.jsonError(w, "Not found", http.StatusNotFound)
	}
}

func (h *Handler) apiExperimentList(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	status := models.ExperimentStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		h.jsonError(w, "Invalid status filter", http.StatusBadRequest)
		return
	}
	page := parseIntParam(r, "page", 1)
	limit := parseIntParam(r, "limit", 20)
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	items, total, err := h.config.Experiments.List(r.Context(), caller, status, limit, (page-1)*limit)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	if items == nil {
		items = []*models.Experiment{}
	}

	totalPages := total / limit
	if total%limit != 0 {
		totalPages++
	}
	h.jsonResponse(w, http.StatusOK, experimentListResponse{
		Experiments: items,
		Pagination: pagination{
			Page:       page,
			Limit:      limit,
			Total:      total,
			TotalPages: totalPages,
		},
	})
}

func (h *Handler) apiExperimentCreate(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req createExperimentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	exp, err := h.config.Experiments.Create(r.Context(), caller, experiments.CreateParams{
		Name:              req.Name,
		Description:       req.Description,
		BaselinePromptID:  req.BaselinePromptID,
		VariantPromptIDs:  req.VariantPromptIDs,
		GoalMetric:        req.GoalMetric,
		TargetImprovement: req.TargetImprovement,
		TrafficAllocation: req.TrafficAllocation,
		MinSampleSize:     req.MinSampleSize,
	})
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.jsonResponse(w, http.StatusCreated, exp)
}

func (h *Handler) apiExperimentGet(w http.ResponseWriter, r *http.Request, id string) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	detail, err := h.config.Experiments.Get(r.Context(), caller, id)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.jsonResponse(w, http.StatusOK, detail)
}

func (h *Handler) apiExperimentUpdate(w http.ResponseWriter, r *http.Request, id string) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req updateExperimentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	exp, err := h.config.Experiments.Update(r.Context(), caller, id, experiments.UpdateParams{
		Name:              req.Name,
		Description:       req.Description,
		BaselinePromptID:  req.BaselinePromptID,
		VariantPromptIDs:  req.VariantPromptIDs,
		GoalMetric:        req.GoalMetric,
		TargetImprovement: req.TargetImprovement,
		TrafficAllocation: req.TrafficAllocation,
		MinSampleSize:     req.MinSampleSize,
	})
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.jsonResponse(w, http.StatusOK, exp)
}

func (h *Handler) apiExperimentDelete(w http.ResponseWriter, r *http.Request, id string) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	if err := h.config.Experiments.Delete(r.Context(), caller, id); err != nil {
		h.serviceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// transitionFunc is the shape shared by Start, Stop, and Complete.
type transitionFunc func(ctx context.Context, caller experiments.Caller, id string) (*models.Experiment, error)

func (h *Handler) apiExperimentTransition(w http.ResponseWriter, r *http.Request, id string, transition transitionFunc) {
	if r.Method != http.MethodPost {
		h.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	exp, err := transition(r.Context(), caller, id)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.jsonResponse(w, http.StatusOK, exp)
}

func (h *Handler) apiExperimentRecord(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		h.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req recordResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	record, err := h.config.Experiments.RecordResult(r.Context(), caller, id, experiments.RecordParams{
		PromptID:       req.PromptID,
		VariantName:    req.VariantName,
		InputText:      req.InputText,
		OutputText:     req.OutputText,
		UserRating:     req.UserRating,
		UserFeedback:   req.UserFeedback,
		Cost:           req.Cost,
		ResponseTimeMS: req.ResponseTimeMS,
		Success:        req.Success,
		TokenCount:     req.TokenCount,
	})
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.jsonResponse(w, http.StatusCreated, record)
}

func (h *Handler) apiExperimentResults(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		h.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	report, err := h.config.Experiments.Report(r.Context(), caller, id)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.jsonResponse(w, http.StatusOK, report)
}

func (h *Handler) apiExperimentAssign(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		h.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	assignment, err := h.config.Experiments.Assign(r.Context(), caller, id, r.URL.Query().Get("subject"))
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.jsonResponse(w, http.StatusOK, assignment)
}

// caller derives the experiment-service caller from the request. With
// auth enabled the user comes from the validated credentials; otherwise
// the X-User-ID header (or a fixed development identity) is used. Team
// scope always comes from the X-Team-ID header.
func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (experiments.Caller, bool) {
	caller := experiments.Caller{TeamID: strings.TrimSpace(r.Header.Get("X-Team-ID"))}
	if user, ok := auth.UserFromContext(r.Context()); ok {
		caller.UserID = user.ID
		return caller, true
	}
	if h.config.AuthService != nil && h.config.AuthService.Enabled() {
		h.jsonError(w, "Unauthorized", http.StatusUnauthorized)
		return caller, false
	}
	caller.UserID = strings.TrimSpace(r.Header.Get("X-User-ID"))
	if caller.UserID == "" {
		caller.UserID = "local-dev"
	}
	return caller, true
}

// serviceError maps service errors onto HTTP status codes.
func (h *Handler) serviceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *experiments.ValidationError
	if errors.As(err, &verr) {
		h.jsonError(w, verr.Error(), http.StatusBadRequest)
		return
	}
	var cerr *experiments.ConflictError
	if errors.As(err, &cerr) {
		h.jsonError(w, cerr.Message, http.StatusBadRequest)
		return
	}
	var perr *experiments.PermissionError
	if errors.As(err, &perr) {
		h.jsonError(w, perr.Message, http.StatusForbidden)
		return
	}
	if errors.Is(err, storage.ErrNotFound) {
		h.jsonError(w, "Not found", http.StatusNotFound)
		return
	}
	h.config.Logger.Error(r.Context(), "request failed", "error", err, "path", r.URL.Path)
	if h.config.Metrics != nil {
		h.config.Metrics.RecordError("web", "internal")
	}
	h.jsonError(w, "Internal server error", http.StatusInternalServerError)
}

// jsonResponse writes a JSON response with the given status code.
func (h *Handler) jsonResponse(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.config.Logger.Error(context.Background(), "json encode error", "error", err)
	}
}

// jsonError writes a JSON error response.
func (h *Handler) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return parsed
}
