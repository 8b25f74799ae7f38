package security

import "time"

// EventKind classifies an authentication or authorization event.
type EventKind string

// Event kinds written to the event log.
const (
	KindLogin           EventKind = "login"
	KindSecondFactor    EventKind = "second_factor"
	KindSensitiveAction EventKind = "sensitive_action"
)

// Event is an immutable fact in the append-only event log. UserID is nil when
// the identity was not recognized (unknown email on a login attempt).
type Event struct {
	ID         int64
	Kind       EventKind
	UserID     *int64
	Identifier string
	IP         string
	UserAgent  string
	Success    bool
	Detail     map[string]any
	OccurredAt time.Time
}

// Severity grades an alert.
type Severity string

// Alert severities, lowest first.
const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// AlertType identifies the threshold rule that fired.
type AlertType string

// Alert types emitted by the monitor.
const (
	AlertMultipleFailedLogins AlertType = "MULTIPLE_FAILED_LOGINS"
	AlertMultipleIPAttempts   AlertType = "MULTIPLE_IP_ATTEMPTS"
	AlertMultipleFailed2FA    AlertType = "MULTIPLE_FAILED_2FA"
)

// Alert is a derived fact recorded when a rule fires. Immutable once written.
type Alert struct {
	ID        int64
	Type      AlertType
	Severity  Severity
	Detail    map[string]any
	CreatedAt time.Time
}

// SubjectKind distinguishes blocked principals from blocked network origins.
type SubjectKind string

// Block subject kinds.
const (
	SubjectPrincipal SubjectKind = "principal"
	SubjectOrigin    SubjectKind = "origin"
)

// Block is a row in the block registry. Expiry is lazy: consumers filter on
// ExpiresAt > now, no sweep is required for correctness.
type Block struct {
	SubjectKind SubjectKind
	Subject     string
	Reason      string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Active reports whether the block is still in force at the given instant.
func (b Block) Active(now time.Time) bool {
	return b.ExpiresAt.After(now)
}

// Threshold rule constants. The rule set is closed and compiled in; windows,
// thresholds and cool-downs are never assembled from caller input.
const (
	FailedLoginWindow    = time.Hour
	FailedLoginThreshold = 5
	OriginBlockDuration  = 30 * time.Minute

	DistinctOriginWindow    = time.Hour
	DistinctOriginThreshold = 3

	Failed2FAWindow        = 30 * time.Minute
	Failed2FAThreshold     = 3
	PrincipalBlockDuration = 15 * time.Minute
)

// Report aggregates the event log and alerts over a trailing window.
type Report struct {
	WindowDays         int           `json:"window_days"`
	GeneratedAt        time.Time     `json:"generated_at"`
	TotalEvents        int64         `json:"total_events"`
	SuccessfulEvents   int64         `json:"successful_events"`
	FailedEvents       int64         `json:"failed_events"`
	DistinctOrigins    int64         `json:"distinct_origins"`
	DistinctPrincipals int64         `json:"distinct_principals"`
	RecentAlerts       []Alert       `json:"recent_alerts"`
	TopFailureOrigins  []OriginCount `json:"top_failure_origins"`
}

// OriginCount pairs an origin with its failure count for report ranking.
type OriginCount struct {
	IP       string `json:"ip"`
	Failures int64  `json:"failures"`
}
