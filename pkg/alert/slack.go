package alert

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Slack sends notifications via Slack incoming webhook.
type Slack struct {
	client     *http.Client
	webhookURL string
}

// NewSlack creates a new Slack notifier.
func NewSlack(webhookURL string) *Slack {
	return &Slack{
		client:     &http.Client{Timeout: 10 * time.Second},
		webhookURL: webhookURL,
	}
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) Send(ctx context.Context, n *Notification) error {
	blocks := []map[string]any{
		{
			"type": "header",
			"text": map[string]any{
				"type": "plain_text",
				"text": fmt.Sprintf("%s %s", severityIcon(n.Severity), n.Title),
			},
		},
		{
			"type": "section",
			"text": map[string]any{
				"type": "mrkdwn",
				"text": n.Body,
			},
		},
	}

	if keys := n.sortedFields(); len(keys) > 0 {
		var lines []string
		for _, k := range keys {
			lines = append(lines, fmt.Sprintf("*%s:* %s", k, n.Fields[k]))
		}
		blocks = append(blocks, map[string]any{
			"type": "context",
			"elements": []map[string]any{
				{"type": "mrkdwn", "text": strings.Join(lines, " | ")},
			},
		})
	}

	body, err := marshal("slack", map[string]any{"blocks": blocks})
	if err != nil {
		return err
	}
	return postJSON(ctx, s.client, s.webhookURL, "slack webhook", body, nil)
}

func severityIcon(s Severity) string {
	switch s {
	case SeverityCritical:
		return "🔴"
	case SeverityWarning:
		return "🟠"
	default:
		return "🔵"
	}
}
