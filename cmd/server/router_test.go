package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/phrazzld/lookbook/internal/api"
	apiMiddleware "github.com/phrazzld/lookbook/internal/api/middleware"
	"github.com/phrazzld/lookbook/internal/pipeline"
	"github.com/phrazzld/lookbook/internal/task"
	"github.com/stretchr/testify/assert"
)

type stubService struct{}

func (stubService) Submit(context.Context, pipeline.Request) (string, error) {
	return "req-1", nil
}

func (stubService) Poll(_ context.Context, id string) (pipeline.RequestStatus, error) {
	if id != "req-1" {
		return pipeline.RequestStatus{}, pipeline.ErrRequestNotFound
	}
	return pipeline.RequestStatus{RequestID: id, Status: pipeline.StatusRunning}, nil
}

type stubQueue struct{}

func (stubQueue) Status() task.QueueStatus { return task.QueueStatus{Workers: 4} }

type stubKeys struct{}

func (stubKeys) Enabled() bool { return true }

func (stubKeys) Verify(key string) error {
	if key == "secret-key" {
		return nil
	}
	return assert.AnError
}

func testRouter(anonymous bool, artifacts http.Handler) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return newRouter(routerDeps{
		handler: api.NewHandler(stubService{}, stubQueue{}, api.HandlerConfig{}, logger),
		auth:    apiMiddleware.NewAuthMiddleware(stubKeys{}, nil, anonymous),
		metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, "lookbook_queue_depth 0\n")
		}),
		artifacts: artifacts,
		logger:    logger,
	})
}

func TestRouter(t *testing.T) {
	t.Parallel()

	artifacts := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "artifact:"+r.URL.Path)
	})
	router := testRouter(false, artifacts)

	tests := []struct {
		name       string
		method     string
		path       string
		apiKey     string
		wantStatus int
		wantBody   string
	}{
		{"health is public", http.MethodGet, "/health", "", http.StatusOK, "OK"},
		{"metrics are public", http.MethodGet, "/metrics", "", http.StatusOK, "lookbook_queue_depth"},
		{"artifacts are public", http.MethodGet, "/artifacts/req-1/a.png", "", http.StatusOK, "artifact:/req-1/a.png"},
		{"api requires credentials", http.MethodGet, "/api/queue/status", "", http.StatusUnauthorized, "Authentication required"},
		{"api rejects bad key", http.MethodGet, "/api/queue/status", "nope", http.StatusUnauthorized, "Invalid API key"},
		{"queue status", http.MethodGet, "/api/queue/status", "secret-key", http.StatusOK, `"workers":4`},
		{"poll known request", http.MethodGet, "/api/requests/req-1", "secret-key", http.StatusOK, `"status":"running"`},
		{"poll unknown request", http.MethodGet, "/api/requests/other", "secret-key", http.StatusNotFound, "Request not found"},
		{"generate requires multipart", http.MethodPost, "/api/generate", "secret-key", http.StatusBadRequest, "invalid multipart form"},
		{"unknown route", http.MethodGet, "/api/unknown", "secret-key", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.apiKey != "" {
				req.Header.Set(apiMiddleware.APIKeyHeader, tt.apiKey)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantBody)
			assert.NotEmpty(t, rec.Header().Get("X-Trace-ID"))
		})
	}
}

func TestRouter_AnonymousAccess(t *testing.T) {
	t.Parallel()

	router := testRouter(true, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/queue/status", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/artifacts/x.png", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code, "artifacts are only mounted for local storage")
}
