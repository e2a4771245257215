package auth

import (
	"fmt"

	"github.com/clixen-ai/clixen-bot/internal/models"
)

// Denial reason codes, written verbatim into audit records.
const (
	ReasonInsufficientPermissions = "insufficient_permissions"
	ReasonQuotaExceeded           = "quota_exceeded"
)

// GateResult is the outcome of the permission and quota check.
type GateResult struct {
	Allowed bool
	Reason  string
	Message string
}

// Allow is the successful gate result.
var Allow = GateResult{Allowed: true}

// Evaluate applies the access-control contract to a classified intent.
// It is a pure function: no storage, no network, no clock. Direct
// responses and clarifications always pass; only workflow routing is
// subject to permission and quota checks, in that order.
func Evaluate(decision *models.IntentDecision, ctx *models.AuthContext) GateResult {
	if decision.Action != models.ActionRouteToWorkflow {
		return Allow
	}

	if !ctx.HasPermission(decision.Workflow) {
		return GateResult{
			Reason:  ReasonInsufficientPermissions,
			Message: InsufficientPermissionsMessage(ctx.Tier),
		}
	}

	if ctx.QuotaLimit != models.UnlimitedQuota &&
		ctx.QuotaUsed+decision.CreditsRequired() > ctx.QuotaLimit {
		return GateResult{
			Reason:  ReasonQuotaExceeded,
			Message: QuotaExceededMessage(ctx.QuotaLimit),
		}
	}

	return Allow
}

// InsufficientPermissionsMessage is the user-facing denial for a
// workflow outside the tier's permission set.
func InsufficientPermissionsMessage(tier models.Tier) string {
	return fmt.Sprintf(
		"This automation isn't included in your %s plan. Upgrade at clixen.app/pricing to unlock it.", tier)
}

// QuotaExceededMessage is the user-facing denial for an exhausted quota.
func QuotaExceededMessage(limit int) string {
	return fmt.Sprintf(
		"You've used all %d automation credits for this period. Upgrade at clixen.app/pricing for a higher limit.", limit)
}
