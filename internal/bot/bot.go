package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/clixen-ai/clixen-bot/internal/models"
)

// Options controls how the bot receives updates. With a webhook URL set
// the bot serves Telegram's POSTs over HTTP (acknowledged immediately,
// processing happens off the request path); otherwise it long-polls,
// which is the mode used for local development.
type Options struct {
	WebhookURL     string
	ListenAddr     string
	MessageTimeout time.Duration
}

type Bot struct {
	api      *tgbotapi.BotAPI
	pipeline *Pipeline
	opts     Options
	logger   *zap.Logger
}

func New(token string, opts Options, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	if opts.MessageTimeout <= 0 {
		opts.MessageTimeout = time.Minute
	}

	return &Bot{
		api:    api,
		opts:   opts,
		logger: logger,
	}, nil
}

// AttachPipeline wires the message pipeline. The pipeline needs the bot
// as its Responder, so it is constructed after the bot and attached here.
func (b *Bot) AttachPipeline(p *Pipeline) {
	b.pipeline = p
}

// Start consumes updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	if b.pipeline == nil {
		return errors.New("no pipeline attached")
	}

	if b.opts.WebhookURL != "" {
		return b.startWebhook(ctx)
	}
	return b.startPolling(ctx)
}

func (b *Bot) startWebhook(ctx context.Context) error {
	wh, err := tgbotapi.NewWebhook(b.opts.WebhookURL + "/" + b.api.Token)
	if err != nil {
		return fmt.Errorf("failed to build webhook config: %w", err)
	}
	if _, err := b.api.Request(wh); err != nil {
		return fmt.Errorf("failed to register webhook: %w", err)
	}

	// ListenForWebhook answers every POST with 200 before the update is
	// processed, so Telegram never retry-storms on internal errors.
	updates := b.api.ListenForWebhook("/" + b.api.Token)

	srv := &http.Server{Addr: b.opts.ListenAddr}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	b.logger.Info("Webhook listener started",
		zap.String("addr", b.opts.ListenAddr),
		zap.String("webhook_url", b.opts.WebhookURL))

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		case err := <-errCh:
			return fmt.Errorf("webhook server failed: %w", err)
		case update := <-updates:
			b.consume(update)
		}
	}
}

func (b *Bot) startPolling(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	b.logger.Info("Long polling started")

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update := <-updates:
			b.consume(update)
		}
	}
}

func (b *Bot) consume(update tgbotapi.Update) {
	if update.Message == nil {
		return
	}
	go b.handleMessage(update.Message)
}

func (b *Bot) handleMessage(message *tgbotapi.Message) {
	// Independent budget per message; a slow LLM or workflow call never
	// stalls other chats.
	ctx, cancel := context.WithTimeout(context.Background(), b.opts.MessageTimeout)
	defer cancel()

	msg := InboundMessage{
		ChatID:     message.Chat.ID,
		Text:       message.Text,
		Attachment: extractAttachment(message),
	}
	if message.From != nil {
		msg.FirstName = message.From.FirstName
		msg.Username = message.From.UserName
	}
	if message.Caption != "" {
		msg.Text = message.Caption
	}

	if message.IsCommand() {
		b.pipeline.HandleCommand(ctx, msg, message.Command(), message.CommandArguments())
		return
	}

	b.pipeline.HandleMessage(ctx, msg)
}

// extractAttachment keeps only the type and channel file id; binary
// content is never fetched or forwarded.
func extractAttachment(message *tgbotapi.Message) *models.Attachment {
	switch {
	case message.Document != nil:
		return &models.Attachment{
			Type:   "document",
			FileID: message.Document.FileID,
			Name:   message.Document.FileName,
		}
	case len(message.Photo) > 0:
		return &models.Attachment{
			Type:   "photo",
			FileID: message.Photo[len(message.Photo)-1].FileID,
		}
	case message.Voice != nil:
		return &models.Attachment{
			Type:   "voice",
			FileID: message.Voice.FileID,
		}
	default:
		return nil
	}
}

// SendMessage implements Responder.
func (b *Bot) SendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

// SendTyping implements Responder.
func (b *Bot) SendTyping(chatID int64) {
	action := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
	if _, err := b.api.Request(action); err != nil {
		b.logger.Debug("Failed to send typing action",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

var _ Responder = (*Bot)(nil)
