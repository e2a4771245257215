package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/clixen-ai/clixen-bot/internal/models"
)

const systemPrompt = `You are the intent router for Clixen AI, a Telegram automation assistant.
The supported automation workflows are:
- weather_check: current weather and forecasts for a location
- pdf_summarizer: summarize an attached PDF document
- email_scanner: scan the user's connected inbox for important messages
- text_translator: translate text between languages

Decide what to do with the user's message and respond with ONLY a JSON object:
{
  "action": "direct_response" | "need_clarification" | "permission_denied" | "route_to_n8n",
  "workflow": "<one of the workflow names above, only when action is route_to_n8n>",
  "parameters": {"<string key>": "<string value>"},
  "response": "<short human-facing message>",
  "confidence": <0.0-1.0>,
  "credits_required": 1
}

Rules:
- Use route_to_n8n only when the message clearly asks for one of the listed workflows
  AND that workflow appears in the user's permitted list.
- Use permission_denied when the request matches a workflow the user may not use.
- Use need_clarification when required parameters are missing (e.g. no location).
- Otherwise use direct_response with a brief helpful answer.
- Never invent workflow names. Never include anything outside the JSON object.`

// completionClient is the slice of the OpenAI client the classifier
// needs; tests substitute a stub.
type completionClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type GPTClassifier struct {
	client      completionClient
	model       string
	maxTokens   int
	temperature float64
	timeout     time.Duration
	logger      *zap.Logger
}

func NewGPTClassifier(apiKey, model string, maxTokens int, temperature float64, timeout time.Duration, logger *zap.Logger) *GPTClassifier {
	return &GPTClassifier{
		client:      openai.NewClient(apiKey),
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		timeout:     timeout,
		logger:      logger,
	}
}

// Classify sends the message to the model and parses the decision.
// Timeouts, API errors and malformed replies all degrade to
// FallbackDecision; a classifier failure must never route a workflow.
// The failure itself is returned alongside so callers can audit it.
func (c *GPTClassifier) Classify(ctx context.Context, text string, attachment *models.Attachment, authCtx *models.AuthContext) (*models.IntentDecision, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: c.buildUserPrompt(text, attachment, authCtx),
			},
		},
		MaxTokens:   c.maxTokens,
		Temperature: float32(c.temperature),
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		c.logger.Error("Intent classification call failed",
			zap.Error(err),
			zap.Int64("chat_id", authCtx.ChatID))
		return FallbackDecision(), fmt.Errorf("classification call failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		c.logger.Error("Intent classification returned no choices",
			zap.Int64("chat_id", authCtx.ChatID))
		return FallbackDecision(), fmt.Errorf("classification returned no choices")
	}

	decision, err := parseDecision(resp.Choices[0].Message.Content)
	if err != nil {
		c.logger.Error("Failed to parse intent decision",
			zap.Error(err),
			zap.String("response", resp.Choices[0].Message.Content),
			zap.Int64("chat_id", authCtx.ChatID))
		return FallbackDecision(), fmt.Errorf("classification response rejected: %w", err)
	}

	return decision, nil
}

func (c *GPTClassifier) buildUserPrompt(text string, attachment *models.Attachment, authCtx *models.AuthContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User tier: %s\n", authCtx.Tier)
	fmt.Fprintf(&b, "Permitted workflows: %s\n", strings.Join(authCtx.Permissions, ", "))
	if authCtx.QuotaLimit == models.UnlimitedQuota {
		b.WriteString("Credits remaining: unlimited\n")
	} else {
		fmt.Fprintf(&b, "Credits remaining: %d\n", authCtx.QuotaRemaining())
	}
	if attachment != nil {
		fmt.Fprintf(&b, "Attachment: type=%s name=%s\n", attachment.Type, attachment.Name)
	}
	fmt.Fprintf(&b, "Message: %s", text)
	return b.String()
}

// parseDecision validates the raw model output against the IntentDecision
// schema. It is strict: one well-defined shape, no probing of alternative
// field names.
func parseDecision(raw string) (*models.IntentDecision, error) {
	var decision models.IntentDecision
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &decision); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	switch decision.Action {
	case models.ActionDirectResponse, models.ActionNeedClarification, models.ActionPermissionDenied:
		if decision.Response == "" {
			decision.Response = FallbackMessage
		}
	case models.ActionRouteToWorkflow:
		if !models.IsKnownWorkflow(decision.Workflow) {
			return nil, fmt.Errorf("unknown workflow %q", decision.Workflow)
		}
	default:
		return nil, fmt.Errorf("unknown action %q", decision.Action)
	}

	return &decision, nil
}

var _ Classifier = (*GPTClassifier)(nil)
