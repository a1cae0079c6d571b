// Package notify delivers run outcomes to a webhook endpoint.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/dirhaul/dirhaul/internal/models"
)

// Event types carried in the payload.
const (
	EventCompleted = "backup_completed"
	EventFailed    = "backup_failed"
)

// Payload is the JSON body posted after every run.
type Payload struct {
	EventType       string    `json:"event_type"`
	Job             string    `json:"job"`
	Artifact        string    `json:"artifact,omitempty"`
	Error           string    `json:"error,omitempty"`
	ArchiveBytes    int64     `json:"archive_bytes"`
	DurationSeconds float64   `json:"duration_seconds"`
	Timestamp       time.Time `json:"timestamp"`
}

// Webhook posts run outcomes to a single URL with optional HMAC signing.
// One attempt per run; the pipeline treats delivery as best-effort.
type Webhook struct {
	url    string
	secret string
	client *http.Client
	logger zerolog.Logger
}

// NewWebhook creates a webhook notifier. A non-empty secret enables the
// X-Dirhaul-Signature header.
func NewWebhook(url, secret string, logger zerolog.Logger) *Webhook {
	return &Webhook{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger.With().Str("component", "webhook").Logger(),
	}
}

// NotifyRun posts the outcome of rep.
func (w *Webhook) NotifyRun(ctx context.Context, rep *models.RunReport) error {
	payload := Payload{
		EventType:       EventCompleted,
		Job:             rep.Job,
		Artifact:        rep.Artifact,
		Error:           rep.Error,
		ArchiveBytes:    rep.ArchiveBytes,
		DurationSeconds: rep.Duration().Seconds(),
		Timestamp:       rep.FinishedAt.UTC(),
	}
	if !rep.Succeeded() {
		payload.EventType = EventFailed
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if w.secret != "" {
		req.Header.Set("X-Dirhaul-Signature", computeHMAC(body, w.secret))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	w.logger.Info().
		Str("event_type", payload.EventType).
		Int("status", resp.StatusCode).
		Msg("webhook notification sent")

	return nil
}

// computeHMAC computes an HMAC-SHA256 signature for the given payload.
func computeHMAC(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
