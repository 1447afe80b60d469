package alert

import (
	"context"
	"net/http"
	"time"
)

// Discord sends notifications via Discord webhook.
type Discord struct {
	client     *http.Client
	webhookURL string
}

// NewDiscord creates a new Discord notifier.
func NewDiscord(webhookURL string) *Discord {
	return &Discord{
		client:     &http.Client{Timeout: 10 * time.Second},
		webhookURL: webhookURL,
	}
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) Send(ctx context.Context, n *Notification) error {
	var fields []map[string]any
	for _, k := range n.sortedFields() {
		fields = append(fields, map[string]any{
			"name":   k,
			"value":  n.Fields[k],
			"inline": true,
		})
	}

	embed := map[string]any{
		"title":       severityIcon(n.Severity) + " " + n.Title,
		"description": n.Body,
		"color":       severityColor(n.Severity),
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	}
	if len(fields) > 0 {
		embed["fields"] = fields
	}

	body, err := marshal("discord", map[string]any{"embeds": []map[string]any{embed}})
	if err != nil {
		return err
	}
	return postJSON(ctx, d.client, d.webhookURL, "discord webhook", body, nil)
}

func severityColor(s Severity) int {
	switch s {
	case SeverityCritical:
		return 0xD32F2F
	case SeverityWarning:
		return 0xFF6600
	default:
		return 0x1976D2
	}
}
