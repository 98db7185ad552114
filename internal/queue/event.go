// Package queue carries security events over RabbitMQ: the payload type, a
// publisher used by the session service and a consumer that appends each
// event to logs/security.log.
package queue

import "time"

// SecurityQueue is the durable queue security events are published to.
const SecurityQueue = "auth.security"

// Event names.
const (
	EventRefreshNotFound    = "refresh_token_not_found"
	EventRefreshExpired     = "refresh_token_expired"
	EventRefreshCorrupted   = "refresh_token_corrupted"
	EventRefreshMismatch    = "refresh_token_user_mismatch"
	EventRefreshUserGone    = "refresh_token_user_unavailable"
	EventRefreshReplayed    = "refresh_token_replayed"
	EventLogoutAll          = "logout_all"
	EventAccountDeactivated = "account_deactivated"
)

// Severities, ordered from least to most urgent.
const (
	SeverityInfo  = "info"
	SeverityWarn  = "warn"
	SeverityError = "error"
	SeverityAlert = "ALERT"
)

// SecurityEvent describes a rejected refresh attempt or a forced end of
// sessions.  TokenPrefix holds only the first characters of a token.
type SecurityEvent struct {
	Event       string    `json:"event"`
	Severity    string    `json:"severity"`
	UserID      uint64    `json:"user_id,omitempty"`
	TokenPrefix string    `json:"token_prefix,omitempty"`
	IP          string    `json:"ip,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}
