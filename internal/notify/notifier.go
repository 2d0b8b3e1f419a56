// Package notify delivers the one-shot terminal webhook for a render job.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"renderflow/internal/jobs"
	"renderflow/internal/pkg/logger"
)

// Payload is the JSON body POSTed to the caller's webhook URL.
type Payload struct {
	ID           string     `json:"id"`
	Status       string     `json:"status"`
	OutputURL    *string    `json:"output_url"`
	ErrorMessage *string    `json:"error_message"`
	Progress     float64    `json:"progress"`
	CreatedAt    time.Time  `json:"created_at"`
	FinishedAt   *time.Time `json:"finished_at"`
}

// Notifier fires at most one delivery attempt per terminal job. There is no
// retry: a miss is recorded in webhook_delivery_status and the job's own
// terminal status is unaffected.
type Notifier struct {
	store  jobs.Store
	client *http.Client
	log    *logger.Logger
}

func New(store jobs.Store, timeout time.Duration, log *logger.Logger) *Notifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = logger.NewDefault()
	}
	return &Notifier{
		store:  store,
		client: &http.Client{Timeout: timeout},
		log:    log.WithComponent("notifier"),
	}
}

// Deliver POSTs the terminal payload to the job's webhook, if one is
// registered, and records the outcome. Non-terminal jobs are ignored.
func (n *Notifier) Deliver(ctx context.Context, job *jobs.Job) {
	if job.WebhookURL == nil || *job.WebhookURL == "" {
		return
	}
	if !job.Status.Terminal() {
		return
	}

	log := n.log.WithJobID(job.ID)

	payload := Payload{
		ID:         job.ID,
		Status:     string(job.Status),
		Progress:   job.Progress,
		CreatedAt:  job.CreatedAt,
		FinishedAt: job.FinishedAt,
	}
	if job.Output != nil {
		payload.OutputURL = &job.Output.URL
	}
	payload.ErrorMessage = job.ErrorMessage

	body, err := json.Marshal(payload)
	if err != nil {
		log.Error("webhook payload marshal failed", "error", err.Error())
		n.record(ctx, job.ID, jobs.WebhookFailed)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, *job.WebhookURL, bytes.NewReader(body))
	if err != nil {
		log.Error("webhook request build failed", "error", err.Error())
		n.record(ctx, job.ID, jobs.WebhookFailed)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := n.client.Do(req)
	if err != nil {
		log.Warn("webhook delivery failed", "error", err.Error())
		n.record(ctx, job.ID, jobs.WebhookFailed)
		return
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		log.Warn("webhook rejected", "status", res.StatusCode)
		n.record(ctx, job.ID, jobs.WebhookFailed)
		return
	}

	log.Info("webhook delivered", "status", res.StatusCode)
	n.record(ctx, job.ID, jobs.WebhookSent)
}

func (n *Notifier) record(ctx context.Context, jobID, status string) {
	if err := n.store.SetWebhookDelivery(ctx, jobID, status); err != nil {
		n.log.WithJobID(jobID).Error("webhook status update failed", "error", err.Error())
	}
}

