// Package jobs holds the render job model and its persistence contract.
package jobs

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a render job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRendering Status = "rendering"
	StatusUploading Status = "uploading"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// Terminal reports whether the status is final. Terminal jobs never mutate
// again except for webhook delivery bookkeeping.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// Webhook delivery states.
const (
	WebhookPending = "pending"
	WebhookSent    = "sent"
	WebhookFailed  = "failed"
)

// OutputRef points at the published artifact of a completed job.
type OutputRef struct {
	Provider string `json:"provider"`
	Bucket   string `json:"bucket"`
	Key      string `json:"key"`
	URL      string `json:"url"`
	// Degraded marks a local-fallback reference written because the durable
	// backend was unreachable at publish time.
	Degraded bool `json:"degraded,omitempty"`
}

// Progress is a fine-grained progress snapshot for a rendering job.
type Progress struct {
	Fraction     float64
	CurrentFrame int
	TotalFrames  int
	ETASeconds   float64
	HasETA       bool
}

// Job is one request to render a composition with specific input properties.
type Job struct {
	ID            string          `json:"id"`
	OwnerID       string          `json:"owner_id"`
	TemplateID    string          `json:"template_id"`
	CompositionID string          `json:"composition_id"`
	InputProps    json.RawMessage `json:"input_props"`

	Status   Status  `json:"status"`
	Progress float64 `json:"progress"`

	CurrentFrame *int     `json:"current_frame,omitempty"`
	TotalFrames  *int     `json:"total_frames,omitempty"`
	ETASeconds   *float64 `json:"eta_seconds,omitempty"`

	Output *OutputRef `json:"output_ref,omitempty"`

	ErrorMessage *string `json:"error_message,omitempty"`
	ErrorDetail  *string `json:"error_detail,omitempty"`

	WebhookURL      *string `json:"webhook_url,omitempty"`
	WebhookDelivery string  `json:"webhook_delivery_status,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}
