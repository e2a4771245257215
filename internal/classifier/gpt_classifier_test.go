package classifier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clixen-ai/clixen-bot/internal/models"
)

type stubCompletion struct {
	content string
	err     error
	sleep   time.Duration
	lastReq openai.ChatCompletionRequest
}

func (s *stubCompletion) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	s.lastReq = req
	if s.sleep > 0 {
		select {
		case <-time.After(s.sleep):
		case <-ctx.Done():
			return openai.ChatCompletionResponse{}, ctx.Err()
		}
	}
	if s.err != nil {
		return openai.ChatCompletionResponse{}, s.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: s.content}},
		},
	}, nil
}

func newTestClassifier(stub *stubCompletion) *GPTClassifier {
	return &GPTClassifier{
		client:      stub,
		model:       openai.GPT4oMini,
		maxTokens:   300,
		temperature: 0.1,
		timeout:     time.Second,
		logger:      zap.NewNop(),
	}
}

func classifyCtx() *models.AuthContext {
	return &models.AuthContext{
		UserID:      "acct-1",
		ChatID:      12345,
		Tier:        models.TierFree,
		Permissions: []string{models.WorkflowWeatherCheck, models.WorkflowTextTranslator},
		QuotaUsed:   49,
		QuotaLimit:  50,
	}
}

func TestClassifyRoute(t *testing.T) {
	stub := &stubCompletion{content: `{
		"action": "route_to_n8n",
		"workflow": "weather_check",
		"parameters": {"location": "Tokyo"},
		"confidence": 0.95,
		"credits_required": 1
	}`}
	c := newTestClassifier(stub)

	decision, err := c.Classify(context.Background(), "what's the weather in Tokyo", nil, classifyCtx())
	require.NoError(t, err)

	assert.Equal(t, models.ActionRouteToWorkflow, decision.Action)
	assert.Equal(t, models.WorkflowWeatherCheck, decision.Workflow)
	assert.Equal(t, "Tokyo", decision.Parameters["location"])
	assert.Equal(t, 1, decision.CreditsRequired())
}

func TestClassifySendsUserContext(t *testing.T) {
	stub := &stubCompletion{content: `{"action": "direct_response", "response": "hello"}`}
	c := newTestClassifier(stub)

	_, err := c.Classify(context.Background(), "hello", &models.Attachment{Type: "document", Name: "report.pdf"}, classifyCtx())
	require.NoError(t, err)

	require.Len(t, stub.lastReq.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, stub.lastReq.Messages[0].Role)
	userPrompt := stub.lastReq.Messages[1].Content
	assert.Contains(t, userPrompt, "User tier: free")
	assert.Contains(t, userPrompt, "weather_check")
	assert.Contains(t, userPrompt, "report.pdf")
	assert.Contains(t, userPrompt, "Message: hello")
	require.NotNil(t, stub.lastReq.ResponseFormat)
	assert.Equal(t, openai.ChatCompletionResponseFormatTypeJSONObject, stub.lastReq.ResponseFormat.Type)
}

func TestClassifyAPIErrorFailsClosed(t *testing.T) {
	stub := &stubCompletion{err: errors.New("rate limited")}
	c := newTestClassifier(stub)

	decision, err := c.Classify(context.Background(), "weather in Tokyo", nil, classifyCtx())
	assert.Error(t, err)
	assert.Equal(t, models.ActionDirectResponse, decision.Action)
	assert.Equal(t, FallbackMessage, decision.Response)
}

func TestClassifyTimeoutFailsClosed(t *testing.T) {
	stub := &stubCompletion{sleep: 5 * time.Second, content: `{"action": "direct_response"}`}
	c := newTestClassifier(stub)
	c.timeout = 50 * time.Millisecond

	start := time.Now()
	decision, err := c.Classify(context.Background(), "weather in Tokyo", nil, classifyCtx())
	elapsed := time.Since(start)

	assert.Error(t, err)
	assert.Equal(t, models.ActionDirectResponse, decision.Action)
	assert.Less(t, elapsed, time.Second, "classification must respect its timeout")
}

func TestParseDecision(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
		action  models.IntentAction
	}{
		{
			name:   "valid direct response",
			raw:    `{"action": "direct_response", "response": "hi"}`,
			action: models.ActionDirectResponse,
		},
		{
			name:   "valid clarification",
			raw:    `{"action": "need_clarification", "response": "which city?"}`,
			action: models.ActionNeedClarification,
		},
		{
			name:   "valid route",
			raw:    `{"action": "route_to_n8n", "workflow": "text_translator"}`,
			action: models.ActionRouteToWorkflow,
		},
		{
			name:    "not JSON at all",
			raw:     "Sure! I can help with the weather.",
			wantErr: true,
		},
		{
			name:    "missing action field",
			raw:     `{"workflow": "weather_check"}`,
			wantErr: true,
		},
		{
			name:    "unknown action value",
			raw:     `{"action": "execute_anything"}`,
			wantErr: true,
		},
		{
			name:    "route to invented workflow",
			raw:     `{"action": "route_to_n8n", "workflow": "delete_database"}`,
			wantErr: true,
		},
		{
			name:    "empty body",
			raw:     "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, err := parseDecision(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.action, decision.Action)
		})
	}
}

func TestParseDecisionFillsFallbackResponse(t *testing.T) {
	decision, err := parseDecision(`{"action": "direct_response"}`)
	require.NoError(t, err)
	assert.Equal(t, FallbackMessage, decision.Response)
}

// Any malformed reply must resolve to direct_response, never a route.
func TestMalformedRepliesNeverRoute(t *testing.T) {
	malformed := []string{
		"plain text",
		`{"action": "route_to_n8n"}`,
		`{"action": "route_to_n8n", "workflow": "rm_rf"}`,
		`{"action": 42}`,
		`[]`,
	}
	for _, raw := range malformed {
		stub := &stubCompletion{content: raw}
		c := newTestClassifier(stub)

		decision, _ := c.Classify(context.Background(), "weather please", nil, classifyCtx())
		assert.Equal(t, models.ActionDirectResponse, decision.Action, "input %q", raw)
	}
}
