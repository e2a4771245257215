package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/clixen-ai/clixen-bot/internal/audit"
	"github.com/clixen-ai/clixen-bot/internal/auth"
	"github.com/clixen-ai/clixen-bot/internal/classifier"
	"github.com/clixen-ai/clixen-bot/internal/dispatch"
	"github.com/clixen-ai/clixen-bot/internal/models"
	"github.com/clixen-ai/clixen-bot/internal/storage"
	"github.com/clixen-ai/clixen-bot/internal/token"
)

// User-facing messages. Internal failure detail never appears here.
const (
	msgLinkInstructions = `This Telegram account isn't linked to a Clixen AI account yet.

1. Sign in at clixen.app
2. Open Settings → Telegram and generate a linking code
3. Send me the code here, or use /start <code>`

	msgUpgradeRequired = "Your trial has ended. Upgrade at clixen.app/pricing to keep using automations."
	msgAuthError       = "Sorry, I couldn't verify your account right now. Please try again in a moment."
	msgDispatchFailed  = "Sorry, I couldn't complete that task. Please try again."
	msgLinked          = "✅ Your Telegram account is now linked! Send me a message to get started, or /help to see what I can do."
	msgLinkConflict    = "This Telegram account is already linked to a different Clixen AI account."
	msgTokenInvalid    = "That linking code isn't valid. Generate a new one from your dashboard at clixen.app."
	msgTokenExpired    = "That linking code has expired. Generate a new one from your dashboard at clixen.app."
	msgTokenUsed       = "That linking code was already used. Generate a new one from your dashboard at clixen.app."

	msgHelp = `Here's what I can do:

🌤 Weather — "what's the weather in Tokyo"
📄 Summarize — send a PDF and ask for a summary
📧 Email scan — "check my inbox for urgent mail"
🌍 Translate — "translate 'good morning' to Spanish"

Commands:
/status - your plan, credits and trial
/link - how to link your account
/help - this message`
)

// Responder sends replies back to the originating channel.
type Responder interface {
	SendMessage(chatID int64, text string)
	SendTyping(chatID int64)
}

// InboundMessage is one channel-agnostic inbound update.
type InboundMessage struct {
	ChatID     int64
	Text       string
	FirstName  string
	Username   string
	Attachment *models.Attachment
}

// Pipeline runs the full message flow: resolve, classify, gate, sign,
// dispatch, audit, respond. Each call is one independent unit; the only
// shared state is the user store.
type Pipeline struct {
	resolver   *auth.Resolver
	linking    *auth.LinkingService
	classifier classifier.Classifier
	tokens     *token.Service
	dispatcher *dispatch.Dispatcher
	store      storage.UserStorage
	audit      *audit.Logger
	responder  Responder
	logger     *zap.Logger
	now        func() time.Time
}

type PipelineDeps struct {
	Resolver   *auth.Resolver
	Linking    *auth.LinkingService
	Classifier classifier.Classifier
	Tokens     *token.Service
	Dispatcher *dispatch.Dispatcher
	Store      storage.UserStorage
	Audit      *audit.Logger
	Responder  Responder
	Logger     *zap.Logger
}

func NewPipeline(deps PipelineDeps) *Pipeline {
	return &Pipeline{
		resolver:   deps.Resolver,
		linking:    deps.Linking,
		classifier: deps.Classifier,
		tokens:     deps.Tokens,
		dispatcher: deps.Dispatcher,
		store:      deps.Store,
		audit:      deps.Audit,
		responder:  deps.Responder,
		logger:     deps.Logger,
		now:        time.Now,
	}
}

// HandleMessage processes one free-text message end to end. Every path
// ends with a reply; no message is left unanswered.
func (p *Pipeline) HandleMessage(ctx context.Context, msg InboundMessage) {
	start := p.now()

	// Bare linking codes are accepted as plain messages too, so users
	// can paste the code without the /start prefix.
	if tokenValue, ok := looksLikeLinkingCode(msg.Text); ok {
		p.redeemLinkingToken(ctx, msg, tokenValue)
		return
	}

	authCtx, err := p.resolver.Resolve(ctx, msg.ChatID)
	if err != nil {
		p.rejectUnauthenticated(ctx, msg.ChatID, err, start)
		return
	}

	p.responder.SendTyping(msg.ChatID)

	decision, clsErr := p.classifier.Classify(ctx, msg.Text, msg.Attachment, authCtx)
	if clsErr != nil {
		p.audit.Record(ctx, authCtx.UserID, msg.ChatID, models.AuditActionClassification, clsErr.Error(),
			nil, false, p.now().Sub(start))
	}

	gate := auth.Evaluate(decision, authCtx)
	if !gate.Allowed {
		p.audit.Record(ctx, authCtx.UserID, msg.ChatID, models.AuditActionPermissionCheck, gate.Reason,
			map[string]any{"workflow": decision.Workflow}, false, p.now().Sub(start))
		p.responder.SendMessage(msg.ChatID, gate.Message)
		return
	}

	if decision.Action != models.ActionRouteToWorkflow {
		p.responder.SendMessage(msg.ChatID, decision.Response)
		p.touchActivity(ctx, authCtx.UserID)
		return
	}

	p.dispatchWorkflow(ctx, msg, authCtx, decision, start)
}

// dispatchWorkflow reserves quota, mints the access token and forwards
// the request. Quota is charged before dispatch: the atomic reservation
// guarantees the limit is never overshot under concurrency, at the cost
// of one credit on a failed dispatch. There are no automatic retries.
func (p *Pipeline) dispatchWorkflow(ctx context.Context, msg InboundMessage, authCtx *models.AuthContext, decision *models.IntentDecision, start time.Time) {
	credits := decision.CreditsRequired()

	err := p.store.ReserveQuota(ctx, authCtx.UserID, credits)
	if errors.Is(err, storage.ErrQuotaExceeded) {
		// The gate passed on a snapshot; a concurrent message may have
		// spent the last credit since.
		p.audit.Record(ctx, authCtx.UserID, msg.ChatID, models.AuditActionPermissionCheck, auth.ReasonQuotaExceeded,
			map[string]any{"workflow": decision.Workflow}, false, p.now().Sub(start))
		p.responder.SendMessage(msg.ChatID, auth.QuotaExceededMessage(authCtx.QuotaLimit))
		return
	}
	if err != nil {
		p.logger.Error("Failed to reserve quota",
			zap.Error(err),
			zap.String("user_id", authCtx.UserID))
		p.audit.Record(ctx, authCtx.UserID, msg.ChatID, models.AuditActionWorkflow, "quota reservation failed",
			map[string]any{"workflow": decision.Workflow}, false, p.now().Sub(start))
		p.responder.SendMessage(msg.ChatID, msgDispatchFailed)
		return
	}
	authCtx.QuotaUsed += credits

	bearer, err := p.tokens.Issue(authCtx, decision.Workflow)
	if err != nil {
		p.logger.Error("Failed to issue access token",
			zap.Error(err),
			zap.String("user_id", authCtx.UserID))
		p.audit.Record(ctx, authCtx.UserID, msg.ChatID, models.AuditActionWorkflow, "token issuance failed",
			map[string]any{"workflow": decision.Workflow}, false, p.now().Sub(start))
		p.responder.SendMessage(msg.ChatID, msgDispatchFailed)
		return
	}

	result, err := p.dispatcher.Dispatch(ctx, decision, authCtx, bearer, msg.Attachment != nil)
	if err != nil {
		detail := "dispatch failed"
		if errors.Is(err, dispatch.ErrUnknownWorkflow) {
			detail = "workflow_not_found"
		}
		p.logger.Error("Workflow dispatch failed",
			zap.Error(err),
			zap.String("workflow", decision.Workflow),
			zap.String("user_id", authCtx.UserID))
		p.audit.Record(ctx, authCtx.UserID, msg.ChatID, models.AuditActionWorkflow, detail,
			map[string]any{"workflow": decision.Workflow, "error": err.Error()}, false, p.now().Sub(start))
		p.responder.SendMessage(msg.ChatID, msgDispatchFailed)
		return
	}

	auditCtx := map[string]any{
		"workflow":   decision.Workflow,
		"request_id": result.RequestID,
		"status":     result.StatusCode,
	}
	if !result.Success {
		if result.UpstreamError != "" {
			auditCtx["upstream_error"] = result.UpstreamError
		}
		p.audit.Record(ctx, authCtx.UserID, msg.ChatID, models.AuditActionWorkflow, "workflow reported failure",
			auditCtx, false, p.now().Sub(start))
		p.responder.SendMessage(msg.ChatID, msgDispatchFailed)
		return
	}

	p.audit.Record(ctx, authCtx.UserID, msg.ChatID, models.AuditActionWorkflow, decision.Workflow,
		auditCtx, true, p.now().Sub(start))

	reply := result.Message
	if reply == "" {
		reply = "✅ Done! Your automation has finished."
	}
	p.responder.SendMessage(msg.ChatID, reply)
	p.touchActivity(ctx, authCtx.UserID)
}

// HandleCommand processes a slash command. Every invocation is audited.
func (p *Pipeline) HandleCommand(ctx context.Context, msg InboundMessage, command, args string) {
	start := p.now()

	switch command {
	case "start":
		if args != "" {
			p.recordCommand(ctx, msg, command, start)
			p.redeemLinkingToken(ctx, msg, args)
			return
		}
		p.handleStart(ctx, msg, start)
	case "link":
		p.recordCommand(ctx, msg, command, start)
		p.responder.SendMessage(msg.ChatID, msgLinkInstructions)
	case "help":
		p.recordCommand(ctx, msg, command, start)
		p.responder.SendMessage(msg.ChatID, msgHelp)
	case "status":
		p.handleStatus(ctx, msg, start)
	default:
		p.recordCommand(ctx, msg, command, start)
		p.responder.SendMessage(msg.ChatID, "Unknown command. Use /help to see available commands.")
	}
}

func (p *Pipeline) handleStart(ctx context.Context, msg InboundMessage, start time.Time) {
	p.recordCommand(ctx, msg, "start", start)

	if _, err := p.resolver.Resolve(ctx, msg.ChatID); errors.Is(err, auth.ErrUnlinked) {
		p.responder.SendMessage(msg.ChatID, "Welcome to Clixen AI! 🤖\n\n"+msgLinkInstructions)
		return
	}

	p.responder.SendMessage(msg.ChatID, "Welcome back! Send me a message to run an automation, or /help to see what I can do.")
}

func (p *Pipeline) handleStatus(ctx context.Context, msg InboundMessage, start time.Time) {
	p.recordCommand(ctx, msg, "status", start)

	authCtx, err := p.resolver.Resolve(ctx, msg.ChatID)
	if err != nil {
		p.rejectUnauthenticated(ctx, msg.ChatID, err, start)
		return
	}

	quota := fmt.Sprintf("%d of %d credits used", authCtx.QuotaUsed, authCtx.QuotaLimit)
	if authCtx.QuotaLimit == models.UnlimitedQuota {
		quota = fmt.Sprintf("%d credits used (unlimited plan)", authCtx.QuotaUsed)
	}
	trial := "inactive"
	if authCtx.TrialActive {
		trial = "active"
	}

	p.responder.SendMessage(msg.ChatID, fmt.Sprintf(
		"Plan: %s\nUsage: %s\nTrial: %s\nWorkflows: %s",
		authCtx.Tier, quota, trial, strings.Join(authCtx.Permissions, ", ")))
}

func (p *Pipeline) redeemLinkingToken(ctx context.Context, msg InboundMessage, tokenValue string) {
	_, err := p.linking.Redeem(ctx, tokenValue, msg.ChatID, msg.FirstName, msg.Username)
	switch {
	case err == nil:
		p.responder.SendMessage(msg.ChatID, msgLinked)
	case errors.Is(err, auth.ErrTokenInvalid):
		p.responder.SendMessage(msg.ChatID, msgTokenInvalid)
	case errors.Is(err, auth.ErrTokenExpired):
		p.responder.SendMessage(msg.ChatID, msgTokenExpired)
	case errors.Is(err, auth.ErrTokenAlreadyUsed):
		p.responder.SendMessage(msg.ChatID, msgTokenUsed)
	case errors.Is(err, storage.ErrChatTaken), errors.Is(err, storage.ErrAlreadyLinked):
		p.responder.SendMessage(msg.ChatID, msgLinkConflict)
	default:
		p.logger.Error("Linking token redemption failed",
			zap.Error(err),
			zap.Int64("chat_id", msg.ChatID))
		p.responder.SendMessage(msg.ChatID, msgAuthError)
	}
}

func (p *Pipeline) rejectUnauthenticated(ctx context.Context, chatID int64, err error, start time.Time) {
	p.audit.Record(ctx, models.UnknownAccount, chatID, models.AuditActionAuthFailure, err.Error(),
		nil, false, p.now().Sub(start))

	switch {
	case errors.Is(err, auth.ErrUnlinked):
		p.responder.SendMessage(chatID, msgLinkInstructions)
	case errors.Is(err, auth.ErrUpgradeRequired):
		p.responder.SendMessage(chatID, msgUpgradeRequired)
	default:
		p.responder.SendMessage(chatID, msgAuthError)
	}
}

func (p *Pipeline) recordCommand(ctx context.Context, msg InboundMessage, command string, start time.Time) {
	userID := models.UnknownAccount
	if user, err := p.store.GetUserByChatID(ctx, msg.ChatID); err == nil {
		userID = user.ID
	}
	p.audit.Record(ctx, userID, msg.ChatID, models.AuditActionCommand, command, nil, true, p.now().Sub(start))
}

func (p *Pipeline) touchActivity(ctx context.Context, userID string) {
	if err := p.store.TouchLastActivity(ctx, userID); err != nil {
		p.logger.Warn("Failed to record user activity",
			zap.Error(err),
			zap.String("user_id", userID))
	}
}

// looksLikeLinkingCode matches the 32-hex-character token format issued
// by the dashboard.
func looksLikeLinkingCode(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if len(text) != 32 {
		return "", false
	}
	for _, r := range text {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return "", false
		}
	}
	return text, true
}
