package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	prose "github.com/jdkato/prose/v2"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/legisync/backend/internal/metrics"
	"github.com/legisync/backend/pkg/circuitbreaker"
	"github.com/legisync/backend/pkg/logger"
)

// maxInputChars bounds the bill text sent to the model. Longer texts are
// truncated at a sentence boundary.
const maxInputChars = 12000

const systemPrompt = `You are a legislative analyst. Analyze the given bill and return ONLY a JSON object with this shape:
{
  "summary": "2-4 sentence plain-language summary",
  "key_points": ["..."],
  "impacts": {
    "public_health": {"level": "low|moderate|high|critical", "description": "...", "affected_entities": ["..."], "confidence": 0.0},
    "local_government": {...}, "economic": {...}, "environmental": {...}, "education": {...}, "infrastructure": {...}
  },
  "overall_impact": {"category": "...", "level": "...", "description": "..."},
  "recommended_actions": ["..."],
  "immediate_actions": ["..."],
  "resource_needs": ["..."],
  "impact_category": "...",
  "impact_level": "...",
  "confidence": 0.0
}
Omit impact categories the bill does not touch. Be specific and factual.`

// Client produces structured analysis documents through the LLM provider.
// Calls are paced by a shared rate limiter and guarded by a circuit
// breaker so a misbehaving provider is not hammered. A failed call is not
// retried within the same sync run; the bill stays eligible and the next
// scheduled run tries again.
type Client struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
	limiter     *rate.Limiter
	cb          *circuitbreaker.CircuitBreaker
}

func NewClient(apiKey, model string, temperature float32, maxTokens, timeoutSec int, requestsPerSecond float64) *Client {
	cb := circuitbreaker.NewCircuitBreaker("analysis", circuitbreaker.Config{
		MaxRequests:      5,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	if timeoutSec <= 0 {
		timeoutSec = 60
	}
	if requestsPerSecond <= 0 {
		requestsPerSecond = 0.5
	}

	logger.Info("Analysis client initialized", zap.String("model", model))

	return &Client{
		client:      openai.NewClient(apiKey),
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		timeout:     time.Duration(timeoutSec) * time.Second,
		limiter:     rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
		cb:          cb,
	}
}

// Analyze sends the bill text to the model and parses the structured
// analysis document. Malformed model output is returned as an error for
// the caller to treat as a per-bill failure.
func (c *Client) Analyze(ctx context.Context, title, billText string) (*Document, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	input := truncateAtSentence(billText, maxInputChars)
	userPrompt := fmt.Sprintf("Bill title: %s\n\nBill text:\n%s\n\nReturn JSON only.", title, input)

	var content string

	err := c.cb.Execute(ctx, func() error {
		resp, err := c.client.CreateChatCompletion(
			ctx,
			openai.ChatCompletionRequest{
				Model: c.model,
				Messages: []openai.ChatCompletionMessage{
					{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
					{Role: openai.ChatMessageRoleUser, Content: userPrompt},
				},
				Temperature: c.temperature,
				MaxTokens:   c.maxTokens,
			},
		)
		if err != nil {
			return fmt.Errorf("failed to create completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("empty completion response")
		}

		metrics.LLMTokens.WithLabelValues("prompt").Add(float64(resp.Usage.PromptTokens))
		metrics.LLMTokens.WithLabelValues("completion").Add(float64(resp.Usage.CompletionTokens))

		logger.Debug("Analysis completion generated",
			zap.Int("prompt_tokens", resp.Usage.PromptTokens),
			zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		)

		content = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return nil, err
	}

	doc, err := ParseDocument(content)
	if err != nil {
		return nil, err
	}
	doc.Model = c.model

	return doc, nil
}

// ParseDocument decodes the model's JSON output, tolerating markdown code
// fences around the object.
func ParseDocument(content string) (*Document, error) {
	trimmed := strings.TrimSpace(content)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	var doc Document
	if err := json.Unmarshal([]byte(trimmed), &doc); err != nil {
		return nil, fmt.Errorf("malformed analysis response: %w", err)
	}
	if doc.Summary == "" {
		return nil, fmt.Errorf("malformed analysis response: missing summary")
	}

	return &doc, nil
}

// truncateAtSentence cuts text to at most maxChars, preferring a sentence
// boundary so the model never sees a half-clause ending.
func truncateAtSentence(text string, maxChars int) string {
	if len(text) <= maxChars {
		return text
	}

	doc, err := prose.NewDocument(text[:maxChars],
		prose.WithTagging(false),
		prose.WithExtraction(false),
	)
	if err != nil {
		return text[:maxChars]
	}

	sentences := doc.Sentences()
	if len(sentences) <= 1 {
		return text[:maxChars]
	}

	// Drop the trailing (likely cut) sentence.
	var b strings.Builder
	for _, s := range sentences[:len(sentences)-1] {
		b.WriteString(s.Text)
		b.WriteString(" ")
	}
	return strings.TrimSpace(b.String())
}
