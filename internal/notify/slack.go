package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/scoutlab/pubscout/internal/model"
)

// Slack posts alerts to an incoming-webhook URL as Block Kit messages.
type Slack struct {
	webhookURL string
	client     *http.Client
}

func NewSlack(webhookURL string) *Slack {
	return &Slack{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) Send(ctx context.Context, rec model.PublicationRecord, score model.ScoreResult) error {
	payload, err := json.Marshal(slackMessage(rec, score))
	if err != nil {
		return eris.Wrap(err, "slack: marshal message")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "slack: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "slack: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("slack: webhook returned status %d", resp.StatusCode)
	}
	return nil
}

type slackBlock struct {
	Type   string      `json:"type"`
	Text   *slackText  `json:"text,omitempty"`
	Fields []slackText `json:"fields,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func slackMessage(rec model.PublicationRecord, score model.ScoreResult) map[string]any {
	blocks := []slackBlock{
		{
			Type: "header",
			Text: &slackText{Type: "plain_text", Text: "High-Potential Publication Detected"},
		},
		{
			Type: "section",
			Fields: []slackText{
				{Type: "mrkdwn", Text: "*Title:*\n" + rec.Title},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Score:*\n%.1f/10", score.Score)},
			},
		},
	}

	if score.Rationale != "" {
		blocks = append(blocks, slackBlock{
			Type: "section",
			Text: &slackText{Type: "mrkdwn", Text: "*Rationale:*\n" + score.Rationale},
		})
	}

	var fields []slackText
	if rec.Department != "" {
		fields = append(fields, slackText{Type: "mrkdwn", Text: "*Department:*\n" + rec.Department})
	}
	if len(rec.Authors) > 0 {
		fields = append(fields, slackText{Type: "mrkdwn", Text: "*Authors:*\n" + strings.Join(rec.Authors, ", ")})
	}
	if len(fields) > 0 {
		blocks = append(blocks, slackBlock{Type: "section", Fields: fields})
	}

	if rec.URL != "" {
		blocks = append(blocks, slackBlock{
			Type: "section",
			Text: &slackText{Type: "mrkdwn", Text: fmt.Sprintf("<%s|View publication>", rec.URL)},
		})
	}

	return map[string]any{"blocks": blocks}
}
