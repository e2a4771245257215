package classifier

import (
	"context"

	"github.com/clixen-ai/clixen-bot/internal/models"
)

// Classifier decides what to do with a free-text message. Implementations
// must fail closed: any internal failure yields a direct-response
// decision, never a workflow route. The error reports such failures for
// auditing; the returned decision is always usable.
type Classifier interface {
	Classify(ctx context.Context, text string, attachment *models.Attachment, authCtx *models.AuthContext) (*models.IntentDecision, error)
}

// FallbackMessage is the reply used whenever classification fails.
const FallbackMessage = "I couldn't quite process that. Could you rephrase your request?"

// FallbackDecision is the least-privileged decision: a plain reply that
// grants nothing.
func FallbackDecision() *models.IntentDecision {
	return &models.IntentDecision{
		Action:   models.ActionDirectResponse,
		Response: FallbackMessage,
	}
}
