// Package slack sends execution outcome notifications to Slack via
// incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/linnemanlabs/remedy/internal/incident"
	"github.com/linnemanlabs/remedy/internal/remediation"
)

const httpTimeout = 10 * time.Second

// Notifier posts execution records to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
}

// New creates a new Slack notifier. If webhookURL is empty, Send is a no-op.
func New(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
	}
}

// Send posts an execution outcome to the configured Slack webhook.
// If no webhook URL is configured, it returns nil immediately.
func (n *Notifier) Send(ctx context.Context, inc *incident.Incident, rec *remediation.ExecutionRecord) error {
	if n.webhookURL == "" {
		return nil
	}

	msg := buildMessage(inc, rec)

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func buildMessage(inc *incident.Incident, rec *remediation.ExecutionRecord) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(inc, rec),
			{"type": "divider"},
			fieldsBlock(inc, rec),
			{"type": "divider"},
			stepsBlock(rec),
			{"type": "divider"},
			contextBlock(rec),
		},
	}
}

func headerBlock(inc *incident.Incident, rec *remediation.ExecutionRecord) map[string]any {
	var title string
	switch rec.Status {
	case remediation.ExecutionBlocked:
		title = "Execution Blocked"
	case remediation.ExecutionFailed:
		title = "Execution Failed"
	default:
		title = "Execution Complete"
	}
	text := fmt.Sprintf("%s %s: %s", statusEmoji(rec.Status), title, inc.Service)

	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func fieldsBlock(inc *incident.Incident, rec *remediation.ExecutionRecord) map[string]any {
	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Status:* %s", rec.Status),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Severity:* %s", inc.Severity),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Plan:* %s", rec.PlanID),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Dry run:* %v", rec.DryRun),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Steps:* %d", len(rec.Steps)),
		},
	}
	if len(rec.BlockedBy) > 0 {
		fields = append(fields, map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Blocked by:* %s", strings.Join(rec.BlockedBy, ", ")),
		})
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func stepsBlock(rec *remediation.ExecutionRecord) map[string]any {
	text := "_No steps ran._"
	if len(rec.Steps) > 0 {
		var b strings.Builder
		for _, s := range rec.Steps {
			mark := "✓"
			if !s.OK {
				mark = "✗"
			}
			fmt.Fprintf(&b, "%s `%s` %s\n", mark, s.ActionType, s.Message)
		}
		text = b.String()
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Steps*\n\n%s", text),
		},
	}
}

func contextBlock(rec *remediation.ExecutionRecord) map[string]any {
	elements := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("remedy • execution %s • %s", rec.ExecutionID, rec.EndedAt.UTC().Format("2006-01-02 15:04 UTC")),
		},
	}

	return map[string]any{
		"type":     "context",
		"elements": elements,
	}
}

func statusEmoji(status remediation.ExecutionStatus) string {
	switch status {
	case remediation.ExecutionSuccess:
		return "\U0001f7e2" // green circle
	case remediation.ExecutionBlocked:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f534" // red circle
	}
}
