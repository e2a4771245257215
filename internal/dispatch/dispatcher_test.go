package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clixen-ai/clixen-bot/internal/models"
)

func dispatchCtx() *models.AuthContext {
	return &models.AuthContext{
		UserID:     "acct-1",
		ChatID:     12345,
		Tier:       models.TierFree,
		QuotaUsed:  50,
		QuotaLimit: 50,
	}
}

func weatherDecision() *models.IntentDecision {
	return &models.IntentDecision{
		Action:     models.ActionRouteToWorkflow,
		Workflow:   models.WorkflowWeatherCheck,
		Parameters: map[string]string{"location": "Tokyo"},
		Confidence: 0.95,
	}
}

func TestDispatchSuccess(t *testing.T) {
	var gotPayload Payload
	var gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success": true, "message": "22°C and sunny in Tokyo"}`))
	}))
	defer srv.Close()

	d := NewDispatcher(map[string]string{models.WorkflowWeatherCheck: srv.URL}, 5*time.Second, zap.NewNop())

	result, err := d.Dispatch(context.Background(), weatherDecision(), dispatchCtx(), "signed-token", false)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, "22°C and sunny in Tokyo", result.Message)
	assert.Equal(t, http.StatusOK, result.StatusCode)

	assert.Equal(t, "Bearer signed-token", gotAuth)
	assert.Equal(t, "acct-1", gotPayload.UserID)
	assert.Equal(t, int64(12345), gotPayload.ChatID)
	assert.Equal(t, models.WorkflowWeatherCheck, gotPayload.Workflow)
	assert.Equal(t, "Tokyo", gotPayload.Parameters["location"])
	assert.Equal(t, "text", gotPayload.Context.MessageType)
	assert.False(t, gotPayload.Context.HasAttachment)
	assert.NotEmpty(t, gotPayload.RequestID)
}

// The payload must stay minimal: no conversation history, no message
// text, no attachment content.
func TestDispatchPayloadIsMinimal(t *testing.T) {
	var raw map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		w.Write([]byte(`{"success": true, "message": "ok"}`))
	}))
	defer srv.Close()

	d := NewDispatcher(map[string]string{models.WorkflowWeatherCheck: srv.URL}, 5*time.Second, zap.NewNop())

	_, err := d.Dispatch(context.Background(), weatherDecision(), dispatchCtx(), "tok", true)
	require.NoError(t, err)

	assert.ElementsMatch(t,
		[]string{"request_id", "user_id", "chat_id", "workflow", "parameters", "context"},
		keysOf(raw))
	ctxObj := raw["context"].(map[string]any)
	assert.ElementsMatch(t,
		[]string{"message_type", "confidence", "has_attachment", "timestamp"},
		keysOf(ctxObj))
	assert.Equal(t, "document", ctxObj["message_type"])
	assert.Equal(t, true, ctxObj["has_attachment"])
}

func TestDispatchUnknownWorkflow(t *testing.T) {
	d := NewDispatcher(map[string]string{}, 5*time.Second, zap.NewNop())

	_, err := d.Dispatch(context.Background(), weatherDecision(), dispatchCtx(), "tok", false)
	assert.ErrorIs(t, err, ErrUnknownWorkflow)
}

func TestDispatchUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "workflow crashed: secret stacktrace"}`, http.StatusBadGateway)
	}))
	defer srv.Close()

	d := NewDispatcher(map[string]string{models.WorkflowWeatherCheck: srv.URL}, 5*time.Second, zap.NewNop())

	result, err := d.Dispatch(context.Background(), weatherDecision(), dispatchCtx(), "tok", false)
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, http.StatusBadGateway, result.StatusCode)
	// Captured for logging only.
	assert.Contains(t, result.UpstreamError, "secret stacktrace")
	assert.Empty(t, result.Message)
}

func TestDispatchTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer srv.Close()

	d := NewDispatcher(map[string]string{models.WorkflowWeatherCheck: srv.URL}, 50*time.Millisecond, zap.NewNop())

	start := time.Now()
	_, err := d.Dispatch(context.Background(), weatherDecision(), dispatchCtx(), "tok", false)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), time.Second, "dispatch must respect its timeout")
}

func TestDispatchUnparseableSuccessBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	}))
	defer srv.Close()

	d := NewDispatcher(map[string]string{models.WorkflowWeatherCheck: srv.URL}, 5*time.Second, zap.NewNop())

	result, err := d.Dispatch(context.Background(), weatherDecision(), dispatchCtx(), "tok", false)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Empty(t, result.Message)
}

func keysOf(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
