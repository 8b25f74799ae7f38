package security

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository defines persistence for the event log, alerts and the block
// registry. Events are append-only; alerts are write-once; blocks are
// keyed upserts.
type Repository interface {
	AppendEvent(ctx context.Context, event Event) error
	CountFailures(ctx context.Context, kind EventKind, identifier, ip string, since time.Time) (int64, error)
	CountDistinctFailingOrigins(ctx context.Context, identifier string, since time.Time) (int64, error)
	CountPrincipalFailures(ctx context.Context, kind EventKind, userID int64, since time.Time) (int64, error)

	CreateAlert(ctx context.Context, alert Alert) error
	RecentAlerts(ctx context.Context, since time.Time, limit int) ([]Alert, error)

	UpsertBlock(ctx context.Context, block Block) error
	ActiveBlock(ctx context.Context, kind SubjectKind, subject string, now time.Time) (*Block, error)
	ListActiveBlocks(ctx context.Context, now time.Time) ([]Block, error)
	DeleteBlock(ctx context.Context, kind SubjectKind, subject string) error
	DeleteExpiredBlocks(ctx context.Context, now time.Time) (int64, error)

	SetPrincipalBlocked(ctx context.Context, userID int64, reason string, until time.Time) error
	ClearPrincipalBlocked(ctx context.Context, userID int64) error

	EventTotals(ctx context.Context, since time.Time) (total, success, failure int64, err error)
	DistinctCounts(ctx context.Context, since time.Time) (origins, principals int64, err error)
	TopFailureOrigins(ctx context.Context, since time.Time, limit int) ([]OriginCount, error)
	DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

var _ Repository = (*PGRepository)(nil)

// AppendEvent inserts one event row. Single-statement, so a cancelled caller
// either gets the full row or nothing.
func (r *PGRepository) AppendEvent(ctx context.Context, event Event) error {
	detail, err := json.Marshal(event.Detail)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO security_events (kind, user_id, identifier, ip, user_agent, success, detail, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, NOW()))`,
		string(event.Kind), event.UserID, event.Identifier, event.IP, event.UserAgent, event.Success, detail, nullableTime(event.OccurredAt))
	return err
}

// CountFailures counts failed events of the kind since the cutoff where either
// the identifier or the origin IP matches.
func (r *PGRepository) CountFailures(ctx context.Context, kind EventKind, identifier, ip string, since time.Time) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM security_events
		WHERE kind = $1 AND success = FALSE AND occurred_at >= $2
		  AND (identifier = $3 OR ip = $4)`,
		string(kind), since, identifier, ip).Scan(&count)
	return count, err
}

// CountDistinctFailingOrigins counts the distinct IPs that produced failed
// login events for the identifier since the cutoff.
func (r *PGRepository) CountDistinctFailingOrigins(ctx context.Context, identifier string, since time.Time) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(DISTINCT ip) FROM security_events
		WHERE kind = $1 AND success = FALSE AND occurred_at >= $2 AND identifier = $3`,
		string(KindLogin), since, identifier).Scan(&count)
	return count, err
}

// CountPrincipalFailures counts failed events of the kind for one principal.
func (r *PGRepository) CountPrincipalFailures(ctx context.Context, kind EventKind, userID int64, since time.Time) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM security_events
		WHERE kind = $1 AND success = FALSE AND occurred_at >= $2 AND user_id = $3`,
		string(kind), since, userID).Scan(&count)
	return count, err
}

// CreateAlert inserts one alert row.
func (r *PGRepository) CreateAlert(ctx context.Context, alert Alert) error {
	detail, err := json.Marshal(alert.Detail)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO security_alerts (alert_type, severity, detail, created_at)
		VALUES ($1, $2, $3, COALESCE($4, NOW()))`,
		string(alert.Type), string(alert.Severity), detail, nullableTime(alert.CreatedAt))
	return err
}

// RecentAlerts lists alerts created since the cutoff, newest first.
func (r *PGRepository) RecentAlerts(ctx context.Context, since time.Time, limit int) ([]Alert, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, alert_type, severity, detail, created_at
		FROM security_alerts
		WHERE created_at >= $1
		ORDER BY created_at DESC
		LIMIT $2`, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var alerts []Alert
	for rows.Next() {
		var alert Alert
		var alertType, severity string
		var detail []byte
		if err := rows.Scan(&alert.ID, &alertType, &severity, &detail, &alert.CreatedAt); err != nil {
			return nil, err
		}
		alert.Type = AlertType(alertType)
		alert.Severity = Severity(severity)
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &alert.Detail); err != nil {
				return nil, err
			}
		}
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return alerts, nil
}

// UpsertBlock writes the block for its subject. Concurrent firings for the
// same subject race harmlessly: GREATEST keeps the later expiry.
func (r *PGRepository) UpsertBlock(ctx context.Context, block Block) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO security_blocks (subject_kind, subject, reason, created_at, expires_at)
		VALUES ($1, $2, $3, COALESCE($4, NOW()), $5)
		ON CONFLICT (subject_kind, subject) DO UPDATE
		SET reason = EXCLUDED.reason,
		    expires_at = GREATEST(security_blocks.expires_at, EXCLUDED.expires_at)`,
		string(block.SubjectKind), block.Subject, block.Reason, nullableTime(block.CreatedAt), block.ExpiresAt)
	return err
}

// ActiveBlock returns the block for a subject when it has not yet expired.
func (r *PGRepository) ActiveBlock(ctx context.Context, kind SubjectKind, subject string, now time.Time) (*Block, error) {
	var block Block
	var subjectKind string
	err := r.pool.QueryRow(ctx, `
		SELECT subject_kind, subject, reason, created_at, expires_at
		FROM security_blocks
		WHERE subject_kind = $1 AND subject = $2 AND expires_at > $3`,
		string(kind), subject, now).
		Scan(&subjectKind, &block.Subject, &block.Reason, &block.CreatedAt, &block.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	block.SubjectKind = SubjectKind(subjectKind)
	return &block, nil
}

// ListActiveBlocks lists all unexpired blocks, soonest-expiring last.
func (r *PGRepository) ListActiveBlocks(ctx context.Context, now time.Time) ([]Block, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT subject_kind, subject, reason, created_at, expires_at
		FROM security_blocks
		WHERE expires_at > $1
		ORDER BY expires_at DESC`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var blocks []Block
	for rows.Next() {
		var block Block
		var subjectKind string
		if err := rows.Scan(&subjectKind, &block.Subject, &block.Reason, &block.CreatedAt, &block.ExpiresAt); err != nil {
			return nil, err
		}
		block.SubjectKind = SubjectKind(subjectKind)
		blocks = append(blocks, block)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return blocks, nil
}

// DeleteBlock removes a block regardless of expiry (manual lift).
func (r *PGRepository) DeleteBlock(ctx context.Context, kind SubjectKind, subject string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM security_blocks WHERE subject_kind = $1 AND subject = $2`, string(kind), subject)
	return err
}

// DeleteExpiredBlocks drops expired rows. Storage hygiene only; reads already
// filter on expiry.
func (r *PGRepository) DeleteExpiredBlocks(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM security_blocks WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// SetPrincipalBlocked mirrors a principal block onto the user row so the
// identity subsystem sees the lifecycle change.
func (r *PGRepository) SetPrincipalBlocked(ctx context.Context, userID int64, reason string, until time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE users SET blocked_until = $2, blocked_reason = $3, updated_at = NOW()
		WHERE id = $1 AND (blocked_until IS NULL OR blocked_until < $2)`,
		userID, until, reason)
	return err
}

// ClearPrincipalBlocked resets the user lifecycle fields.
func (r *PGRepository) ClearPrincipalBlocked(ctx context.Context, userID int64) error {
	_, err := r.pool.Exec(ctx, `UPDATE users SET blocked_until = NULL, blocked_reason = NULL, updated_at = NOW() WHERE id = $1`, userID)
	return err
}

// EventTotals aggregates event counts since the cutoff.
func (r *PGRepository) EventTotals(ctx context.Context, since time.Time) (int64, int64, int64, error) {
	var total, success, failure int64
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE success),
		       COUNT(*) FILTER (WHERE NOT success)
		FROM security_events
		WHERE occurred_at >= $1`, since).Scan(&total, &success, &failure)
	return total, success, failure, err
}

// DistinctCounts counts distinct origins and principals since the cutoff.
func (r *PGRepository) DistinctCounts(ctx context.Context, since time.Time) (int64, int64, error) {
	var origins, principals int64
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(DISTINCT ip),
		       COUNT(DISTINCT user_id) FILTER (WHERE user_id IS NOT NULL)
		FROM security_events
		WHERE occurred_at >= $1`, since).Scan(&origins, &principals)
	return origins, principals, err
}

// TopFailureOrigins ranks origins by failure count since the cutoff.
func (r *PGRepository) TopFailureOrigins(ctx context.Context, since time.Time, limit int) ([]OriginCount, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT ip, COUNT(*) AS failures
		FROM security_events
		WHERE occurred_at >= $1 AND success = FALSE AND ip <> ''
		GROUP BY ip
		ORDER BY failures DESC, ip
		LIMIT $2`, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var counts []OriginCount
	for rows.Next() {
		var oc OriginCount
		if err := rows.Scan(&oc.IP, &oc.Failures); err != nil {
			return nil, err
		}
		counts = append(counts, oc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return counts, nil
}

// DeleteEventsBefore prunes the event log for retention housekeeping.
func (r *PGRepository) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM security_events WHERE occurred_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
