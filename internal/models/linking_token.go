package models

import "time"

// LinkingToken is a single-use credential binding a chat identity to an
// account. The holder proves control of the account via the dashboard
// session that issued it, and control of the chat by redeeming it there.
type LinkingToken struct {
	Token      string     `json:"token"`
	UserID     string     `json:"user_id"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	RedeemedAt *time.Time `json:"redeemed_at,omitempty"`
}

// Expired reports whether the token is past its expiry at now.
func (t *LinkingToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// Redeemed reports whether the token has already been consumed.
func (t *LinkingToken) Redeemed() bool {
	return t.RedeemedAt != nil
}
