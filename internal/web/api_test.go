package web

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prompt-minder/promptminder/internal/auth"
	"github.com/prompt-minder/promptminder/internal/experiments"
	"github.com/prompt-minder/promptminder/internal/observability"
	"github.com/prompt-minder/promptminder/internal/storage"
	"github.com/prompt-minder/promptminder/pkg/models"
)

func newTestHandler(t *testing.T, authService *auth.Service) (*Handler, *storage.MemoryPromptStore) {
	t.Helper()
	experimentStore := storage.NewMemoryExperimentStore()
	resultStore := storage.NewMemoryResultStore(experimentStore)
	prompts := storage.NewMemoryPromptStore()
	stores := storage.StoreSet{
		Experiments: experimentStore,
		Results:     resultStore,
		Prompts:     prompts,
		Teams:       storage.NewMemoryTeamStore(),
	}
	logger := observability.NewLogger(observability.LogConfig{Output: io.Discard})
	handler := NewHandler(&Config{
		Experiments: experiments.NewService(stores, logger, nil),
		AuthService: authService,
		Logger:      logger,
	})
	return handler, prompts
}

func seedPrompts(prompts *storage.MemoryPromptStore, userID string, ids ...string) {
	for _, id := range ids {
		prompts.Put(&models.Prompt{
			ID:        id,
			Title:     "prompt " + id,
			Content:   "You are a helpful assistant.",
			CreatedBy: userID,
			CreatedAt: time.Now(),
		})
	}
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("X-User-ID", "user-1")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func createBody() map[string]any {
	return map[string]any{
		"name":               "greeting tone",
		"baseline_prompt_id": "p-base",
		"variant_prompt_ids": []string{"p-a"},
		"goal_metric":        "user_rating",
	}
}

func TestExperimentCRUDOverHTTP(t *testing.T) {
	handler, prompts := newTestHandler(t, nil)
	seedPrompts(prompts, "user-1", "p-base", "p-a")

	// create
	rec := doJSON(t, handler, http.MethodPost, "/api/ab-tests", createBody(), nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}
	var created models.Experiment
	decode(t, rec, &created)
	if created.Status != models.ExperimentStatusDraft || created.MinSampleSize != 100 {
		t.Errorf("created = %+v", created)
	}

	// get with resolved prompts
	rec = doJSON(t, handler, http.MethodGet, "/api/ab-tests/"+created.ID, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var detail struct {
		models.Experiment
		BaselinePrompt *models.PromptRef  `json:"baseline_prompt"`
		VariantPrompts []models.PromptRef `json:"variant_prompts"`
	}
	decode(t, rec, &detail)
	if detail.BaselinePrompt == nil || detail.BaselinePrompt.ID != "p-base" {
		t.Errorf("baseline_prompt = %+v", detail.BaselinePrompt)
	}

	// patch
	rec = doJSON(t, handler, http.MethodPatch, "/api/ab-tests/"+created.ID, map[string]any{"name": "renamed"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("patch status = %d, body %s", rec.Code, rec.Body.String())
	}

	// delete
	rec = doJSON(t, handler, http.MethodDelete, "/api/ab-tests/"+created.ID, nil, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodGet, "/api/ab-tests/"+created.ID, nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d", rec.Code)
	}
}

func TestExperimentLifecycleOverHTTP(t *testing.T) {
	handler, prompts := newTestHandler(t, nil)
	seedPrompts(prompts, "user-1", "p-base", "p-a")

	rec := doJSON(t, handler, http.MethodPost, "/api/ab-tests", createBody(), nil)
	var created models.Experiment
	decode(t, rec, &created)

	// start
	rec = doJSON(t, handler, http.MethodPost, "/api/ab-tests/"+created.ID+"/start", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("start status = %d, body %s", rec.Code, rec.Body.String())
	}

	// update while running is a conflict
	rec = doJSON(t, handler, http.MethodPatch, "/api/ab-tests/"+created.ID, map[string]any{"name": "x"}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("patch while running status = %d", rec.Code)
	}
	var errBody map[string]string
	decode(t, rec, &errBody)
	if errBody["error"] != "Cannot update running experiment" {
		t.Errorf("error = %q", errBody["error"])
	}

	// record a result
	rec = doJSON(t, handler, http.MethodPost, "/api/ab-tests/"+created.ID+"/record", map[string]any{
		"prompt_id":   "p-a",
		"user_rating": 4.5,
		"success":     true,
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("record status = %d, body %s", rec.Code, rec.Body.String())
	}

	// assign
	rec = doJSON(t, handler, http.MethodGet, "/api/ab-tests/"+created.ID+"/assign?subject=visitor-1", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("assign status = %d, body %s", rec.Code, rec.Body.String())
	}
	var assignment experiments.Assignment
	decode(t, rec, &assignment)
	if assignment.PromptID == "" || assignment.VariantName == "" {
		t.Errorf("assignment = %+v", assignment)
	}

	// results report
	rec = doJSON(t, handler, http.MethodGet, "/api/ab-tests/"+created.ID+"/results", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("results status = %d", rec.Code)
	}
	var report struct {
		Experiment struct {
			CurrentSampleSize int `json:"currentSampleSize"`
		} `json:"experiment"`
		TotalResults int  `json:"totalResults"`
		IsComplete   bool `json:"isComplete"`
		Winner       any  `json:"winner"`
	}
	decode(t, rec, &report)
	if report.TotalResults != 1 || report.Experiment.CurrentSampleSize != 1 {
		t.Errorf("report = %+v", report)
	}

	// stop, then terminal
	rec = doJSON(t, handler, http.MethodPost, "/api/ab-tests/"+created.ID+"/stop", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stop status = %d", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodPost, "/api/ab-tests/"+created.ID+"/start", nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("restart status = %d, want 400", rec.Code)
	}
}

func TestExperimentListPagination(t *testing.T) {
	handler, prompts := newTestHandler(t, nil)
	seedPrompts(prompts, "user-1", "p-base", "p-a")

	for i := 0; i < 5; i++ {
		rec := doJSON(t, handler, http.MethodPost, "/api/ab-tests", createBody(), nil)
		if rec.Code != http.StatusCreated {
			t.Fatalf("create status = %d", rec.Code)
		}
	}

	rec := doJSON(t, handler, http.MethodGet, "/api/ab-tests?page=1&limit=2", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var list struct {
		Experiments []models.Experiment `json:"experiments"`
		Pagination  struct {
			Page       int `json:"page"`
			Limit      int `json:"limit"`
			Total      int `json:"total"`
			TotalPages int `json:"totalPages"`
		} `json:"pagination"`
	}
	decode(t, rec, &list)
	if len(list.Experiments) != 2 {
		t.Errorf("experiments = %d, want 2", len(list.Experiments))
	}
	if list.Pagination.Total != 5 || list.Pagination.TotalPages != 3 {
		t.Errorf("pagination = %+v", list.Pagination)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/ab-tests?status=bogus", nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bogus status filter = %d, want 400", rec.Code)
	}
}

func TestValidationErrorsOverHTTP(t *testing.T) {
	handler, prompts := newTestHandler(t, nil)
	seedPrompts(prompts, "user-1", "p-base", "p-a")

	body := createBody()
	delete(body, "name")
	rec := doJSON(t, handler, http.MethodPost, "/api/ab-tests", body, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing name status = %d, want 400", rec.Code)
	}

	body = createBody()
	body["baseline_prompt_id"] = "p-unknown"
	rec = doJSON(t, handler, http.MethodPost, "/api/ab-tests", body, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown prompt status = %d, want 404", rec.Code)
	}
}

func TestPermissionErrorsOverHTTP(t *testing.T) {
	handler, prompts := newTestHandler(t, nil)
	seedPrompts(prompts, "user-1", "p-base", "p-a")

	rec := doJSON(t, handler, http.MethodPost, "/api/ab-tests", createBody(), nil)
	var created models.Experiment
	decode(t, rec, &created)

	req := httptest.NewRequest(http.MethodGet, "/api/ab-tests/"+created.ID, nil)
	req.Header.Set("X-User-ID", "user-2")
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusForbidden {
		t.Errorf("foreign get status = %d, want 403", rec2.Code)
	}
}

func TestAuthRequiredOverHTTP(t *testing.T) {
	service := auth.NewService(auth.Config{APIKeys: []auth.APIKeyConfig{{Key: "abc123", UserID: "user-1"}}})
	handler, prompts := newTestHandler(t, service)
	seedPrompts(prompts, "user-1", "p-base", "p-a")

	// no credentials
	req := httptest.NewRequest(http.MethodGet, "/api/ab-tests", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", rec.Code)
	}

	// with api key
	rec2 := doJSON(t, handler, http.MethodGet, "/api/ab-tests", nil, map[string]string{"X-API-Key": "abc123"})
	if rec2.Code != http.StatusOK {
		t.Fatalf("authenticated status = %d, body %s", rec2.Code, rec2.Body.String())
	}

	// healthz stays open
	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d, want 200", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	handler, _ := newTestHandler(t, nil)

	rec := doJSON(t, handler, http.MethodDelete, "/api/ab-tests", nil, nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("collection delete status = %d, want 405", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodGet, "/api/ab-tests/some-id/start", nil, nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET start status = %d, want 405", rec.Code)
	}
}

func TestRequestIDEcho(t *testing.T) {
	handler, _ := newTestHandler(t, nil)

	rec := doJSON(t, handler, http.MethodGet, "/healthz", nil, map[string]string{"X-Request-ID": "req-123"})
	if got := rec.Header().Get("X-Request-ID"); got != "req-123" {
		t.Errorf("X-Request-ID = %q, want req-123", got)
	}

	rec = doJSON(t, handler, http.MethodGet, "/healthz", nil, nil)
	if rec.Header().Get("X-Request-ID") == "" {
		t.Errorf("expected generated request id")
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/api/ab-tests", "/api/ab-tests"},
		{"/api/ab-tests/3f1c", "/api/ab-tests/{id}"},
		{"/api/ab-tests/3f1c/results", "/api/ab-tests/{id}/results"},
		{"/healthz", "/healthz"},
	}
	for _, tt := range tests {
		if got := normalizePath(tt.in); got != tt.want {
			t.Errorf("normalizePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
