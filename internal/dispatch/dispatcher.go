// Package dispatch forwards authorized requests to the n8n workflow
// engine. Payloads are deliberately minimal: identity, workflow name,
// extracted parameters and a trimmed context object. Conversation
// history and attachment binaries never leave the bot.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clixen-ai/clixen-bot/internal/models"
)

// ErrUnknownWorkflow is returned when no endpoint is configured for the
// requested workflow name.
var ErrUnknownWorkflow = errors.New("workflow not found")

// upstream error bodies are captured for logs only; cap how much we keep.
const maxErrorBody = 2048

// RequestContext is the trimmed context object sent downstream.
type RequestContext struct {
	MessageType   string    `json:"message_type"`
	Confidence    float64   `json:"confidence"`
	HasAttachment bool      `json:"has_attachment"`
	Timestamp     time.Time `json:"timestamp"`
}

// Payload is the request body POSTed to a workflow endpoint.
type Payload struct {
	RequestID  string            `json:"request_id"`
	UserID     string            `json:"user_id"`
	ChatID     int64             `json:"chat_id"`
	Workflow   string            `json:"workflow"`
	Parameters map[string]string `json:"parameters,omitempty"`
	Context    RequestContext    `json:"context"`
}

// Result is the dispatch outcome. UpstreamError is for audit logs only
// and must never be echoed to the end user.
type Result struct {
	RequestID     string
	Success       bool
	Message       string
	StatusCode    int
	UpstreamError string
}

type workflowResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Dispatcher resolves workflow names against an endpoint map injected at
// construction time, so tests can substitute a fake mapping.
type Dispatcher struct {
	endpoints map[string]string
	client    *http.Client
	logger    *zap.Logger
	now       func() time.Time
}

func NewDispatcher(endpoints map[string]string, timeout time.Duration, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		endpoints: endpoints,
		client:    &http.Client{Timeout: timeout},
		logger:    logger,
		now:       time.Now,
	}
}

// Dispatch forwards one authorized request. Delivery is at-most-once:
// there are no automatic retries, a repeated user request re-runs the
// whole pipeline instead.
func (d *Dispatcher) Dispatch(ctx context.Context, decision *models.IntentDecision, authCtx *models.AuthContext, bearerToken string, hasAttachment bool) (*Result, error) {
	endpoint, ok := d.endpoints[decision.Workflow]
	if !ok {
		return nil, ErrUnknownWorkflow
	}

	messageType := "text"
	if hasAttachment {
		messageType = "document"
	}

	payload := Payload{
		RequestID:  uuid.New().String(),
		UserID:     authCtx.UserID,
		ChatID:     authCtx.ChatID,
		Workflow:   decision.Workflow,
		Parameters: decision.Parameters,
		Context: RequestContext{
			MessageType:   messageType,
			Confidence:    decision.Confidence,
			HasAttachment: hasAttachment,
			Timestamp:     d.now().UTC(),
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal dispatch payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build dispatch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+bearerToken)
	req.Header.Set("X-Request-ID", payload.RequestID)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dispatch request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Result{
			RequestID:     payload.RequestID,
			Success:       false,
			StatusCode:    resp.StatusCode,
			UpstreamError: string(respBody),
		}, nil
	}

	var wr workflowResponse
	if err := json.Unmarshal(respBody, &wr); err != nil {
		// The workflow ran (2xx) but replied with an unexpected body;
		// report success with no upstream message.
		d.logger.Warn("Workflow response not parseable",
			zap.Error(err),
			zap.String("workflow", decision.Workflow),
			zap.String("request_id", payload.RequestID))
		return &Result{RequestID: payload.RequestID, Success: true, StatusCode: resp.StatusCode}, nil
	}

	return &Result{
		RequestID:  payload.RequestID,
		Success:    wr.Success,
		Message:    wr.Message,
		StatusCode: resp.StatusCode,
	}, nil
}

// Workflows returns the configured workflow names, for health reporting.
func (d *Dispatcher) Workflows() []string {
	names := make([]string, 0, len(d.endpoints))
	for name := range d.endpoints {
		names = append(names, name)
	}
	return names
}
