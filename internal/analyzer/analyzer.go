// Package analyzer scores publications for startup potential through an
// OpenAI-compatible chat completion endpoint. Every field sent outbound
// passes through the sanitizer first.
package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/scoutlab/pubscout/internal/config"
	"github.com/scoutlab/pubscout/internal/model"
	"github.com/scoutlab/pubscout/internal/resilience"
	"github.com/scoutlab/pubscout/internal/sanitize"
)

const systemPrompt = `You are an analyst evaluating academic publications for startup potential.
Assess the publication on innovation, market potential, technical feasibility,
competitive advantage and commercialization readiness. Respond with a JSON
object of the form {"score": <number from 0 to 10>, "rationale": "<short reasoning>"}
and nothing else.`

// AnalysisError marks a scoring failure that is specific to one record
// and should not abort the run.
type AnalysisError struct {
	Reason string
	Err    error
}

func (e *AnalysisError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("analyzer: %s: %v", e.Reason, e.Err)
	}
	return "analyzer: " + e.Reason
}

func (e *AnalysisError) Unwrap() error {
	return e.Err
}

type scorePayload struct {
	Score     float64 `json:"score"`
	Rationale string  `json:"rationale"`
}

// Analyzer submits sanitized publication text for scoring.
type Analyzer struct {
	client    *openai.Client
	scrubber  *sanitize.Scrubber
	model     string
	maxTokens int
	timeout   time.Duration
	policy    resilience.Policy
}

func New(cfg config.OpenAIConfig, scrubber *sanitize.Scrubber) (*Analyzer, error) {
	if cfg.Key == "" {
		return nil, eris.New("analyzer: openai key is required")
	}

	clientConfig := openai.DefaultConfig(cfg.Key)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	modelName := cfg.Model
	if modelName == "" {
		modelName = openai.GPT4o
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 800
	}
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	policy := resilience.DefaultPolicy()
	policy.Retryable = retryableAPIError
	policy.OnRetry = resilience.RetryLogger("openai", "chat_completion")

	return &Analyzer{
		client:    openai.NewClientWithConfig(clientConfig),
		scrubber:  scrubber,
		model:     modelName,
		maxTokens: maxTokens,
		timeout:   timeout,
		policy:    policy,
	}, nil
}

// Score evaluates one publication. The record's text is scrubbed of
// personal data before it leaves the process.
func (a *Analyzer) Score(ctx context.Context, rec model.PublicationRecord) (*model.ScoreResult, error) {
	prompt := a.buildPrompt(rec)

	resp, err := resilience.DoVal(ctx, a.policy, func(ctx context.Context) (openai.ChatCompletionResponse, error) {
		callCtx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()
		return a.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
			Model: a.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
			MaxTokens:   a.maxTokens,
			Temperature: 0.2,
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
		})
	})
	if err != nil {
		return nil, &AnalysisError{Reason: "chat completion failed", Err: err}
	}
	if len(resp.Choices) == 0 {
		return nil, &AnalysisError{Reason: "empty completion"}
	}

	result, err := parseScore(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	result.Model = a.model
	result.ScoredAt = time.Now().UTC()

	zap.L().Debug("publication scored",
		zap.String("source_id", rec.SourceID),
		zap.Float64("score", result.Score),
	)
	return result, nil
}

// buildPrompt assembles the sanitized scoring context.
func (a *Analyzer) buildPrompt(rec model.PublicationRecord) string {
	var b strings.Builder
	b.WriteString("Title: " + a.scrubber.Scrub(rec.Title) + "\n")
	if len(rec.Authors) > 0 {
		b.WriteString(fmt.Sprintf("Author count: %d\n", len(rec.Authors)))
	}
	if rec.Department != "" {
		b.WriteString("Department: " + a.scrubber.Scrub(rec.Department) + "\n")
	}
	if rec.PublicationType != "" {
		b.WriteString("Type: " + a.scrubber.Scrub(rec.PublicationType) + "\n")
	}
	if !rec.PublishedDate.IsZero() {
		b.WriteString("Published: " + rec.PublishedDate.Format("2006-01-02") + "\n")
	}
	if rec.Abstract != "" {
		b.WriteString("Abstract: " + a.scrubber.Scrub(rec.Abstract) + "\n")
	}
	return b.String()
}

func parseScore(content string) (*model.ScoreResult, error) {
	var payload scorePayload
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &payload); err != nil {
		return nil, &AnalysisError{Reason: "malformed completion", Err: err}
	}
	if payload.Score < 0 || payload.Score > 10 {
		return nil, &AnalysisError{Reason: fmt.Sprintf("score %.2f out of range", payload.Score)}
	}
	return &model.ScoreResult{
		Score:     payload.Score,
		Rationale: strings.TrimSpace(payload.Rationale),
	}, nil
}

func retryableAPIError(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return resilience.IsTransientHTTPStatus(apiErr.HTTPStatusCode)
	}
	return resilience.IsTransient(err)
}
