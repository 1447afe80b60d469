package alert

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"time"
)

// Webhook sends notifications to a generic HTTP endpoint as JSON.
type Webhook struct {
	client *http.Client
	url    string
	secret string
}

// NewWebhook creates a new generic webhook notifier.
func NewWebhook(url, secret string) *Webhook {
	return &Webhook{
		client: &http.Client{Timeout: 10 * time.Second},
		url:    url,
		secret: secret,
	}
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) Send(ctx context.Context, n *Notification) error {
	payload := struct {
		*Notification
		SentAt time.Time `json:"sent_at"`
	}{n, time.Now().UTC()}

	body, err := marshal("webhook", payload)
	if err != nil {
		return err
	}

	var headers map[string]string
	if w.secret != "" {
		headers = map[string]string{"X-Signature-256": "sha256=" + Sign(w.secret, body)}
	}
	return postJSON(ctx, w.client, w.url, "webhook", body, headers)
}

// Sign returns the hex HMAC-SHA256 of body, as sent in X-Signature-256.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
