package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"renderflow/internal/httpkit"
	"renderflow/internal/jobs"
	"renderflow/internal/pkg/middleware"
	"renderflow/internal/queue"
)

type CreateRenderRequest struct {
	TemplateID    string          `json:"template_id"`
	CompositionID string          `json:"composition_id"`
	InputProps    json.RawMessage `json:"input_props"`
	WebhookURL    string          `json:"webhook_url,omitempty"`
}

func (h *Handler) PostRender(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := h.log.FromContext(ctx)
	owner := middleware.OwnerFromContext(ctx)

	var req CreateRenderRequest
	if err := httpkit.DecodeJSON(r, &req); err != nil {
		httpkit.WriteErr(w, 400, "VALIDATION_ERROR", "invalid json body", nil)
		return
	}

	req.TemplateID = strings.TrimSpace(req.TemplateID)
	if !h.allowedTemplates[req.TemplateID] {
		httpkit.WriteErr(w, 400, "VALIDATION_ERROR", "unknown template_id", map[string]any{"field": "template_id"})
		return
	}

	req.CompositionID = strings.TrimSpace(req.CompositionID)
	if req.CompositionID == "" {
		httpkit.WriteErr(w, 400, "VALIDATION_ERROR", "composition_id is required", map[string]any{"field": "composition_id"})
		return
	}

	req.WebhookURL = strings.TrimSpace(req.WebhookURL)
	if req.WebhookURL != "" && !validWebhookURL(req.WebhookURL) {
		httpkit.WriteErr(w, 400, "VALIDATION_ERROR", "webhook_url must be an absolute http(s) URL", map[string]any{"field": "webhook_url"})
		return
	}

	if len(req.InputProps) == 0 {
		req.InputProps = json.RawMessage(`{}`)
	} else if !json.Valid(req.InputProps) {
		httpkit.WriteErr(w, 400, "VALIDATION_ERROR", "input_props must be valid json", map[string]any{"field": "input_props"})
		return
	}

	now := time.Now().UTC()
	job := &jobs.Job{
		ID:              uuid.NewString(),
		OwnerID:         owner,
		TemplateID:      req.TemplateID,
		CompositionID:   req.CompositionID,
		InputProps:      req.InputProps,
		Status:          jobs.StatusQueued,
		WebhookDelivery: jobs.WebhookPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if req.WebhookURL != "" {
		job.WebhookURL = &req.WebhookURL
	}

	if err := h.store.Create(ctx, job); err != nil {
		log.Error("job insert failed", "error", err)
		httpkit.WriteErr(w, 500, "INTERNAL_ERROR", "could not persist job", nil)
		return
	}

	err := h.queue.Enqueue(ctx, queue.Reference{
		JobID:         job.ID,
		TemplateID:    job.TemplateID,
		CompositionID: job.CompositionID,
		InputProps:    job.InputProps,
	})
	if err != nil {
		// The row exists but no worker will ever see it; fail it now so the
		// caller is not left polling a job that cannot progress.
		_ = h.store.Fail(ctx, job.ID, "could not enqueue job", err.Error())
		log.Error("queue push failed", "job_id", job.ID, "error", err)
		httpkit.WriteErr(w, 500, "INTERNAL_ERROR", "could not enqueue job", nil)
		return
	}

	log.Info("render job accepted", "job_id", job.ID, "template_id", job.TemplateID)
	httpkit.WriteJSON(w, 201, map[string]any{"job": job})
}

func (h *Handler) ListRenders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := middleware.OwnerFromContext(ctx)

	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 && v <= 200 {
			limit = v
		}
	}

	list, err := h.store.ListByOwner(ctx, owner, limit)
	if err != nil {
		h.log.FromContext(ctx).Error("job list failed", "error", err)
		httpkit.WriteErr(w, 500, "INTERNAL_ERROR", "could not list jobs", nil)
		return
	}

	httpkit.WriteJSON(w, 200, map[string]any{"jobs": list})
}

func (h *Handler) GetRender(w http.ResponseWriter, r *http.Request) {
	job, ok := h.ownedJob(w, r)
	if !ok {
		return
	}
	httpkit.WriteJSON(w, 200, map[string]any{"job": job})
}

func (h *Handler) GetProgress(w http.ResponseWriter, r *http.Request) {
	job, ok := h.ownedJob(w, r)
	if !ok {
		return
	}

	httpkit.WriteJSON(w, 200, map[string]any{
		"id":            job.ID,
		"status":        job.Status,
		"progress":      job.Progress,
		"current_frame": job.CurrentFrame,
		"total_frames":  job.TotalFrames,
		"eta_seconds":   job.ETASeconds,
	})
}

func (h *Handler) CancelRender(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	job, ok := h.ownedJob(w, r)
	if !ok {
		return
	}

	// Already-terminal jobs are left alone; cancel is idempotent and always
	// answers with the current record.
	if !job.Status.Terminal() {
		canceled, err := h.store.Cancel(ctx, job.ID)
		if err != nil {
			h.log.FromContext(ctx).Error("cancel failed", "job_id", job.ID, "error", err)
			httpkit.WriteErr(w, 500, "INTERNAL_ERROR", "could not cancel job", nil)
			return
		}
		if canceled {
			h.log.FromContext(ctx).Info("render job canceled", "job_id", job.ID)
		}
		job, err = h.store.Get(ctx, job.ID)
		if err != nil {
			httpkit.WriteErr(w, 500, "INTERNAL_ERROR", "could not reload job", nil)
			return
		}
	}

	httpkit.WriteJSON(w, 200, map[string]any{"job": job})
}

func (h *Handler) StreamArtifact(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	job, ok := h.ownedJob(w, r)
	if !ok {
		return
	}

	if job.Status != jobs.StatusCompleted || job.Output == nil {
		httpkit.WriteErr(w, 409, "CONFLICT", "job has no published artifact", map[string]any{"status": job.Status})
		return
	}

	sp, ok := h.providers[job.Output.Provider]
	if !ok {
		httpkit.WriteErr(w, 500, "INTERNAL_ERROR", "artifact backend not configured", map[string]any{"provider": job.Output.Provider})
		return
	}

	rc, contentType, size, err := sp.GetObject(ctx, job.Output.Key)
	if err != nil {
		h.log.FromContext(ctx).Error("artifact read failed", "job_id", job.ID, "error", err)
		httpkit.WriteErr(w, 502, "UNAVAILABLE", "could not read artifact", nil)
		return
	}
	defer rc.Close()

	if contentType == "" {
		contentType = "video/mp4"
	}
	w.Header().Set("Content-Type", contentType)
	if size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, rc)
}

// ownedJob loads the path job and enforces ownership: 404 for unknown ids,
// 403 for someone else's job.
func (h *Handler) ownedJob(w http.ResponseWriter, r *http.Request) (*jobs.Job, bool) {
	ctx := r.Context()
	jobID := chi.URLParam(r, "jobId")
	owner := middleware.OwnerFromContext(ctx)

	job, err := h.store.Get(ctx, jobID)
	if err != nil {
		if err == jobs.ErrNotFound {
			httpkit.WriteErr(w, 404, "NOT_FOUND", "job not found", map[string]any{"job_id": jobID})
		} else {
			h.log.FromContext(ctx).Error("job fetch failed", "job_id", jobID, "error", err)
			httpkit.WriteErr(w, 500, "INTERNAL_ERROR", "could not load job", nil)
		}
		return nil, false
	}
	if job.OwnerID != owner {
		httpkit.WriteErr(w, 403, "FORBIDDEN", "job belongs to another owner", nil)
		return nil, false
	}
	return job, true
}

func validWebhookURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
