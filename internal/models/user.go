package models

import "time"

// UnlimitedQuota is the sentinel quota limit meaning "no limit".
const UnlimitedQuota = -1

// TrialDuration is how long a fresh account may use the bot before
// the free tier requires an upgrade.
const TrialDuration = 7 * 24 * time.Hour

// Tier is a named subscription level controlling permitted workflows
// and the quota limit.
type Tier string

const (
	TierFree    Tier = "free"
	TierStarter Tier = "starter"
	TierPro     Tier = "pro"
)

// tierPermissions maps each tier to the workflows it may dispatch.
// Derived from the tier, never stored per user.
var tierPermissions = map[Tier][]string{
	TierFree:    {WorkflowWeatherCheck, WorkflowTextTranslator},
	TierStarter: {WorkflowWeatherCheck, WorkflowTextTranslator, WorkflowPDFSummarizer},
	TierPro:     {WorkflowWeatherCheck, WorkflowTextTranslator, WorkflowPDFSummarizer, WorkflowEmailScanner},
}

var tierQuotaLimits = map[Tier]int{
	TierFree:    50,
	TierStarter: 500,
	TierPro:     UnlimitedQuota,
}

// Permissions returns the workflow names this tier may dispatch.
// Unknown tiers get no permissions.
func (t Tier) Permissions() []string {
	perms := tierPermissions[t]
	out := make([]string, len(perms))
	copy(out, perms)
	return out
}

// QuotaLimit returns the default quota limit for this tier.
func (t Tier) QuotaLimit() int {
	if limit, ok := tierQuotaLimits[t]; ok {
		return limit
	}
	return 0
}

// UserProfile represents one registered account.
type UserProfile struct {
	ID             string     `json:"id"`
	Email          string     `json:"email"`
	TelegramChatID *int64     `json:"telegram_chat_id,omitempty"`
	FirstName      string     `json:"first_name,omitempty"`
	Username       string     `json:"username,omitempty"`
	Tier           Tier       `json:"tier"`
	TrialStartedAt *time.Time `json:"trial_started_at,omitempty"`
	TrialExpiresAt *time.Time `json:"trial_expires_at,omitempty"`
	QuotaUsed      int        `json:"quota_used"`
	QuotaLimit     int        `json:"quota_limit"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// TrialActive reports whether the account's trial period is still running
// at the given instant.
func (u *UserProfile) TrialActive(now time.Time) bool {
	if u.TrialStartedAt == nil || u.TrialExpiresAt == nil {
		return false
	}
	return now.Before(*u.TrialExpiresAt)
}

// AuthContext is the resolved view of a user at request time. It is derived
// fresh from the UserProfile on every inbound message and never persisted.
type AuthContext struct {
	UserID      string   `json:"user_id"`
	ChatID      int64    `json:"chat_id"`
	Tier        Tier     `json:"tier"`
	Permissions []string `json:"permissions"`
	QuotaUsed   int      `json:"quota_used"`
	QuotaLimit  int      `json:"quota_limit"`
	TrialActive bool     `json:"trial_active"`
}

// HasPermission reports whether the context permits dispatching the
// named workflow.
func (c *AuthContext) HasPermission(workflow string) bool {
	for _, p := range c.Permissions {
		if p == workflow {
			return true
		}
	}
	return false
}

// QuotaRemaining returns the number of credits left, or UnlimitedQuota
// when the account has no limit.
func (c *AuthContext) QuotaRemaining() int {
	if c.QuotaLimit == UnlimitedQuota {
		return UnlimitedQuota
	}
	remaining := c.QuotaLimit - c.QuotaUsed
	if remaining < 0 {
		return 0
	}
	return remaining
}
