package security

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"
)

// Observer receives monitor outcomes for instrumentation.
type Observer interface {
	SecurityAlert(alertType string, severity string)
	SecurityBlock(subjectKind string)
}

// Monitor ingests authentication events, evaluates the threshold rules and
// maintains the block registry. All Record methods are best-effort: a
// bookkeeping failure is logged and swallowed, never surfaced to the request
// that triggered it.
type Monitor struct {
	repo     Repository
	logger   *slog.Logger
	observer Observer
	clock    func() time.Time
}

// NewMonitor constructs a Monitor.
func NewMonitor(repo Repository, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		repo:   repo,
		logger: logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// SetObserver attaches an outcome observer (e.g. metrics).
func (m *Monitor) SetObserver(obs Observer) {
	m.observer = obs
}

// SetClock overrides the monotonic source. Test hook.
func (m *Monitor) SetClock(clock func() time.Time) {
	m.clock = clock
}

// RecordLoginAttempt appends a login event and, on failure, evaluates the
// failed-login rules for the identifier and origin.
func (m *Monitor) RecordLoginAttempt(ctx context.Context, userID *int64, identifier string, success bool, ip, userAgent string, detail map[string]any) {
	now := m.clock()
	event := Event{
		Kind:       KindLogin,
		UserID:     userID,
		Identifier: identifier,
		IP:         ip,
		UserAgent:  userAgent,
		Success:    success,
		Detail:     detail,
		OccurredAt: now,
	}
	if err := m.repo.AppendEvent(ctx, event); err != nil {
		m.logger.Error("security append login event", slog.String("identifier", identifier), slog.Any("error", err))
		return
	}
	if success {
		return
	}
	m.evaluateFailedLogins(ctx, identifier, ip, now)
	m.evaluateDistinctOrigins(ctx, identifier, now)
}

// RecordSecondFactorAttempt appends a second-factor event and, on failure,
// evaluates the 2FA rule for the principal.
func (m *Monitor) RecordSecondFactorAttempt(ctx context.Context, userID int64, success bool, attemptType, ip, userAgent string) {
	now := m.clock()
	event := Event{
		Kind:       KindSecondFactor,
		UserID:     &userID,
		Identifier: strconv.FormatInt(userID, 10),
		IP:         ip,
		UserAgent:  userAgent,
		Success:    success,
		Detail:     map[string]any{"attempt_type": attemptType},
		OccurredAt: now,
	}
	if err := m.repo.AppendEvent(ctx, event); err != nil {
		m.logger.Error("security append 2fa event", slog.Int64("user_id", userID), slog.Any("error", err))
		return
	}
	if success {
		return
	}
	m.evaluateFailed2FA(ctx, userID, ip, now)
}

// RecordSensitiveAction appends an audit-trail event. Never triggers blocking.
func (m *Monitor) RecordSensitiveAction(ctx context.Context, userID int64, action string, detail map[string]any, ip, userAgent string) {
	event := Event{
		Kind:       KindSensitiveAction,
		UserID:     &userID,
		Identifier: action,
		IP:         ip,
		UserAgent:  userAgent,
		Success:    true,
		Detail:     detail,
		OccurredAt: m.clock(),
	}
	if err := m.repo.AppendEvent(ctx, event); err != nil {
		m.logger.Error("security append sensitive action", slog.Int64("user_id", userID), slog.String("action", action), slog.Any("error", err))
	}
}

// IsOriginBlocked returns the active block for a network origin, if any.
func (m *Monitor) IsOriginBlocked(ctx context.Context, ip string) (*Block, error) {
	return m.repo.ActiveBlock(ctx, SubjectOrigin, ip, m.clock())
}

// IsPrincipalBlocked returns the active block for a principal, if any.
func (m *Monitor) IsPrincipalBlocked(ctx context.Context, userID int64) (*Block, error) {
	return m.repo.ActiveBlock(ctx, SubjectPrincipal, strconv.FormatInt(userID, 10), m.clock())
}

// ListActiveBlocks lists every unexpired block.
func (m *Monitor) ListActiveBlocks(ctx context.Context) ([]Block, error) {
	return m.repo.ListActiveBlocks(ctx, m.clock())
}

// LiftBlock removes a block before its expiry (manual operator action). For a
// principal block the user lifecycle mirror is cleared as well.
func (m *Monitor) LiftBlock(ctx context.Context, kind SubjectKind, subject string) error {
	if err := m.repo.DeleteBlock(ctx, kind, subject); err != nil {
		return err
	}
	if kind == SubjectPrincipal {
		if userID, err := strconv.ParseInt(subject, 10, 64); err == nil {
			if err := m.repo.ClearPrincipalBlocked(ctx, userID); err != nil {
				m.logger.Warn("security clear principal block mirror", slog.String("subject", subject), slog.Any("error", err))
			}
		}
	}
	return nil
}

func (m *Monitor) evaluateFailedLogins(ctx context.Context, identifier, ip string, now time.Time) {
	count, err := m.repo.CountFailures(ctx, KindLogin, identifier, ip, now.Add(-FailedLoginWindow))
	if err != nil {
		m.logger.Error("security count failed logins", slog.String("identifier", identifier), slog.Any("error", err))
		return
	}
	if count < FailedLoginThreshold {
		return
	}
	m.emitAlert(ctx, Alert{
		Type:     AlertMultipleFailedLogins,
		Severity: SeverityHigh,
		Detail: map[string]any{
			"identifier": identifier,
			"ip":         ip,
			"failures":   count,
			"window":     FailedLoginWindow.String(),
		},
		CreatedAt: now,
	})
	m.installBlock(ctx, Block{
		SubjectKind: SubjectOrigin,
		Subject:     ip,
		Reason:      fmt.Sprintf("%d failed logins within %s", count, FailedLoginWindow),
		CreatedAt:   now,
		ExpiresAt:   now.Add(OriginBlockDuration),
	})
}

func (m *Monitor) evaluateDistinctOrigins(ctx context.Context, identifier string, now time.Time) {
	count, err := m.repo.CountDistinctFailingOrigins(ctx, identifier, now.Add(-DistinctOriginWindow))
	if err != nil {
		m.logger.Error("security count distinct origins", slog.String("identifier", identifier), slog.Any("error", err))
		return
	}
	if count < DistinctOriginThreshold {
		return
	}
	// Origin diversity makes origin-blocking ineffective; alert only.
	m.emitAlert(ctx, Alert{
		Type:     AlertMultipleIPAttempts,
		Severity: SeverityHigh,
		Detail: map[string]any{
			"identifier": identifier,
			"origins":    count,
			"window":     DistinctOriginWindow.String(),
		},
		CreatedAt: now,
	})
}

func (m *Monitor) evaluateFailed2FA(ctx context.Context, userID int64, ip string, now time.Time) {
	count, err := m.repo.CountPrincipalFailures(ctx, KindSecondFactor, userID, now.Add(-Failed2FAWindow))
	if err != nil {
		m.logger.Error("security count failed 2fa", slog.Int64("user_id", userID), slog.Any("error", err))
		return
	}
	if count < Failed2FAThreshold {
		return
	}
	m.emitAlert(ctx, Alert{
		Type:     AlertMultipleFailed2FA,
		Severity: SeverityMedium,
		Detail: map[string]any{
			"user_id":  userID,
			"ip":       ip,
			"failures": count,
			"window":   Failed2FAWindow.String(),
		},
		CreatedAt: now,
	})
	reason := fmt.Sprintf("%d failed second-factor checks within %s", count, Failed2FAWindow)
	until := now.Add(PrincipalBlockDuration)
	m.installBlock(ctx, Block{
		SubjectKind: SubjectPrincipal,
		Subject:     strconv.FormatInt(userID, 10),
		Reason:      reason,
		CreatedAt:   now,
		ExpiresAt:   until,
	})
	if err := m.repo.SetPrincipalBlocked(ctx, userID, reason, until); err != nil {
		m.logger.Error("security mirror principal block", slog.Int64("user_id", userID), slog.Any("error", err))
	}
}

func (m *Monitor) emitAlert(ctx context.Context, alert Alert) {
	if err := m.repo.CreateAlert(ctx, alert); err != nil {
		m.logger.Error("security create alert", slog.String("type", string(alert.Type)), slog.Any("error", err))
		return
	}
	m.logger.Warn("security alert",
		slog.String("type", string(alert.Type)),
		slog.String("severity", string(alert.Severity)),
		slog.Any("detail", alert.Detail),
	)
	if m.observer != nil {
		m.observer.SecurityAlert(string(alert.Type), string(alert.Severity))
	}
}

func (m *Monitor) installBlock(ctx context.Context, block Block) {
	if err := m.repo.UpsertBlock(ctx, block); err != nil {
		m.logger.Error("security upsert block", slog.String("subject", block.Subject), slog.Any("error", err))
		return
	}
	m.logger.Warn("security block installed",
		slog.String("subject_kind", string(block.SubjectKind)),
		slog.String("subject", block.Subject),
		slog.Time("expires_at", block.ExpiresAt),
	)
	if m.observer != nil {
		m.observer.SecurityBlock(string(block.SubjectKind))
	}
}
