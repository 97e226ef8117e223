package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SignatureHeader carries the HMAC-SHA256 of the request body when the
// webhook has a secret.
const SignatureHeader = "X-Shuttle-Signature"

// Payload is the JSON body posted to a webhook.
type Payload struct {
	Event     string `json:"event"`
	Timestamp string `json:"timestamp"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}

// Webhook posts notifications as JSON.
type Webhook struct {
	URL        string
	Secret     string
	MaxRetries int
	RetryDelay time.Duration
	Client     *http.Client
}

var _ Notifier = (*Webhook)(nil)

// NewWebhook returns a webhook with the default client and retry policy.
func NewWebhook(url, secret string) *Webhook {
	return &Webhook{
		URL:        url,
		Secret:     secret,
		MaxRetries: 3,
		RetryDelay: 5 * time.Second,
		Client:     &http.Client{Timeout: 30 * time.Second},
	}
}

// Notify implements Notifier.
func (w *Webhook) Notify(ctx context.Context, subject, body string) error {
	payload, err := json.Marshal(Payload{
		Event:     "copy.completed",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Subject:   subject,
		Body:      body,
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= w.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.RetryDelay):
			}
		}
		if lastErr = w.post(ctx, payload); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("webhook %s: %w", w.URL, lastErr)
}

func (w *Webhook) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "shuttle-webhook/1.0")
	if w.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(payload, w.Secret))
	}

	resp, err := w.Client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096)) //nolint:errcheck // best-effort error detail

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("http %d: %s", resp.StatusCode, bytes.TrimSpace(body))
}

// Sign returns the signature header value for payload.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
