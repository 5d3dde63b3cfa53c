package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/lookbook/internal/api/shared"
	"github.com/phrazzld/lookbook/internal/generation"
	"github.com/phrazzld/lookbook/internal/pipeline"
	"github.com/phrazzld/lookbook/internal/task"
)

// multipartMemory is how much of a multipart body is held in memory before
// spilling to temporary files
const multipartMemory = 32 << 20

// ReferenceFields lists the multipart file fields, one per view
var ReferenceFields = []string{
	pipeline.ViewFront,
	pipeline.ViewBack,
	pipeline.ViewSide,
	pipeline.ViewDetail,
}

// PipelineService is the part of pipeline.Service the handlers use
type PipelineService interface {
	Submit(ctx context.Context, req pipeline.Request) (string, error)
	Poll(ctx context.Context, id string) (pipeline.RequestStatus, error)
}

// QueueInspector reports task queue counters
type QueueInspector interface {
	Status() task.QueueStatus
}

// HandlerConfig bounds uploads
type HandlerConfig struct {
	// MaxUploadBytes caps the whole request body
	MaxUploadBytes int64

	// MaxFileBytes caps a single reference upload
	MaxFileBytes int64
}

// Handler serves the generation API
type Handler struct {
	service PipelineService
	queue   QueueInspector
	config  HandlerConfig
	logger  *slog.Logger
}

// NewHandler creates a Handler, filling unset limits with defaults
func NewHandler(service PipelineService, queue QueueInspector, config HandlerConfig, logger *slog.Logger) *Handler {
	if config.MaxFileBytes <= 0 {
		config.MaxFileBytes = pipeline.MaxReferenceBytes
	}
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = int64(len(ReferenceFields))*config.MaxFileBytes + 1<<20
	}
	return &Handler{
		service: service,
		queue:   queue,
		config:  config,
		logger:  logger.With("component", "api"),
	}
}

// SubmitResponse is returned when a request is accepted
type SubmitResponse struct {
	RequestID string          `json:"request_id"`
	Status    pipeline.Status `json:"status"`
	StatusURL string          `json:"status_url"`
}

// Generate handles POST /api/generate. The body is multipart/form-data with
// one file field per view and the request options as form values.
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxUploadBytes)

	req, err := h.parseRequest(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	id, err := h.service.Submit(r.Context(), req)
	if err != nil {
		if errors.Is(err, task.ErrResourceExhausted) {
			w.Header().Set("Retry-After", "30")
		}
		h.respondError(w, r, err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, SubmitResponse{
		RequestID: id,
		Status:    pipeline.StatusPending,
		StatusURL: "/api/requests/" + id,
	})
}

// GetRequest handles GET /api/requests/{id}
func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Request id is required")
		return
	}

	st, err := h.service.Poll(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, st)
}

// QueueStatus handles GET /api/queue/status
func (h *Handler) QueueStatus(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, h.queue.Status())
}

// Health handles GET /health
func Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
}

// parseRequest reads the multipart form into a pipeline.Request
func (h *Handler) parseRequest(r *http.Request) (pipeline.Request, error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return pipeline.Request{}, fmt.Errorf("%w: body exceeds %d bytes", errUploadTooLarge, maxBytes.Limit)
		}
		return pipeline.Request{}, fmt.Errorf("%w: invalid multipart form: %v", pipeline.ErrInvalidRequest, err)
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	refs := make(map[string]generation.Reference)
	for _, field := range ReferenceFields {
		ref, ok, err := h.readReference(r, field)
		if err != nil {
			return pipeline.Request{}, err
		}
		if ok {
			refs[field] = ref
		}
	}
	if _, ok := refs[pipeline.ViewFront]; !ok {
		return pipeline.Request{}, fmt.Errorf("%w: no images provided, %s is required", pipeline.ErrInvalidRequest, pipeline.ViewFront)
	}

	req := pipeline.Request{
		RequestID:   formValue(r, "request_id"),
		References:  refs,
		Description: formValue(r, "description", "text"),
		Product:     formValue(r, "product"),
		Gender:      strings.ToLower(formValue(r, "gender")),
		AspectRatio: formValue(r, "aspect_ratio", "aspectRatio"),
	}

	var err error
	if req.NumberOfOutputs, err = formInt(r, "number_of_outputs", "numberOfOutputs"); err != nil {
		return pipeline.Request{}, err
	}
	if req.WantsUpscale, err = formBool(r, "upscale"); err != nil {
		return pipeline.Request{}, err
	}
	if req.WantsVideo, err = formBool(r, "video", "generate_video"); err != nil {
		return pipeline.Request{}, err
	}
	if raw := formValue(r, "backgrounds"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.Backgrounds); err != nil {
			return pipeline.Request{}, fmt.Errorf("%w: invalid backgrounds: %v", pipeline.ErrInvalidRequest, err)
		}
	}
	return req, nil
}

// readReference reads one optional file field. Non-image uploads and files
// over the per-file limit are rejected.
func (h *Handler) readReference(r *http.Request, field string) (generation.Reference, bool, error) {
	file, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return generation.Reference{}, false, nil
	}
	if err != nil {
		return generation.Reference{}, false, fmt.Errorf("%w: %s: %v", pipeline.ErrInvalidRequest, field, err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.config.MaxFileBytes+1))
	if err != nil {
		return generation.Reference{}, false, fmt.Errorf("failed to read %s upload: %w", field, err)
	}
	if int64(len(data)) > h.config.MaxFileBytes {
		return generation.Reference{}, false, fmt.Errorf("%w: file %s exceeds %d bytes",
			errUploadTooLarge, header.Filename, h.config.MaxFileBytes)
	}
	if len(data) == 0 {
		return generation.Reference{}, false, fmt.Errorf("%w: file %s is empty", pipeline.ErrInvalidRequest, header.Filename)
	}

	mimeType := http.DetectContentType(data)
	if !strings.HasPrefix(mimeType, "image/") {
		return generation.Reference{}, false, fmt.Errorf("%w: file %s is not an image", pipeline.ErrInvalidRequest, header.Filename)
	}
	return generation.Reference{Name: field, MIMEType: mimeType, Data: data}, true, nil
}

// formValue returns the first non-empty value among names
func formValue(r *http.Request, names ...string) string {
	for _, name := range names {
		if v := strings.TrimSpace(r.FormValue(name)); v != "" {
			return v
		}
	}
	return ""
}

func formInt(r *http.Request, names ...string) (int, error) {
	raw := formValue(r, names...)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", pipeline.ErrInvalidRequest, names[0])
	}
	return n, nil
}

func formBool(r *http.Request, names ...string) (bool, error) {
	raw := formValue(r, names...)
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%w: %s must be a boolean", pipeline.ErrInvalidRequest, names[0])
	}
	return b, nil
}
