package security

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"
)

// memRepo mirrors the PostgreSQL repository semantics in memory for tests:
// sliding-window counts re-query the stored events, block upserts keep the
// later expiry, reads filter lazily on expires_at.
type memRepo struct {
	mu      sync.Mutex
	events  []Event
	alerts  []Alert
	blocks  map[string]Block
	mirrors map[int64]string

	appendErr error
	countErr  error
	blockErr  error
}

func newMemRepo() *memRepo {
	return &memRepo{
		blocks:  map[string]Block{},
		mirrors: map[int64]string{},
	}
}

func blockKey(kind SubjectKind, subject string) string {
	return string(kind) + ":" + subject
}

func (r *memRepo) AppendEvent(ctx context.Context, event Event) error {
	if r.appendErr != nil {
		return r.appendErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	event.ID = int64(len(r.events) + 1)
	r.events = append(r.events, event)
	return nil
}

func (r *memRepo) CountFailures(ctx context.Context, kind EventKind, identifier, ip string, since time.Time) (int64, error) {
	if r.countErr != nil {
		return 0, r.countErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, e := range r.events {
		if e.Kind != kind || e.Success || e.OccurredAt.Before(since) {
			continue
		}
		if e.Identifier == identifier || e.IP == ip {
			n++
		}
	}
	return n, nil
}

func (r *memRepo) CountDistinctFailingOrigins(ctx context.Context, identifier string, since time.Time) (int64, error) {
	if r.countErr != nil {
		return 0, r.countErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	origins := map[string]struct{}{}
	for _, e := range r.events {
		if e.Kind != KindLogin || e.Success || e.OccurredAt.Before(since) {
			continue
		}
		if e.Identifier == identifier && e.IP != "" {
			origins[e.IP] = struct{}{}
		}
	}
	return int64(len(origins)), nil
}

func (r *memRepo) CountPrincipalFailures(ctx context.Context, kind EventKind, userID int64, since time.Time) (int64, error) {
	if r.countErr != nil {
		return 0, r.countErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, e := range r.events {
		if e.Kind != kind || e.Success || e.OccurredAt.Before(since) {
			continue
		}
		if e.UserID != nil && *e.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (r *memRepo) CreateAlert(ctx context.Context, alert Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	alert.ID = int64(len(r.alerts) + 1)
	r.alerts = append(r.alerts, alert)
	return nil
}

func (r *memRepo) RecentAlerts(ctx context.Context, since time.Time, limit int) ([]Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Alert
	for i := len(r.alerts) - 1; i >= 0 && len(out) < limit; i-- {
		if !r.alerts[i].CreatedAt.Before(since) {
			out = append(out, r.alerts[i])
		}
	}
	return out, nil
}

func (r *memRepo) UpsertBlock(ctx context.Context, block Block) error {
	if r.blockErr != nil {
		return r.blockErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := blockKey(block.SubjectKind, block.Subject)
	if existing, ok := r.blocks[key]; ok {
		if existing.ExpiresAt.After(block.ExpiresAt) {
			block.ExpiresAt = existing.ExpiresAt
		}
		block.CreatedAt = existing.CreatedAt
	}
	r.blocks[key] = block
	return nil
}

func (r *memRepo) ActiveBlock(ctx context.Context, kind SubjectKind, subject string, now time.Time) (*Block, error) {
	if r.blockErr != nil {
		return nil, r.blockErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	block, ok := r.blocks[blockKey(kind, subject)]
	if !ok || !block.Active(now) {
		return nil, nil
	}
	copied := block
	return &copied, nil
}

func (r *memRepo) ListActiveBlocks(ctx context.Context, now time.Time) ([]Block, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.blockErr != nil {
		return nil, r.blockErr
	}
	var out []Block
	for _, b := range r.blocks {
		if b.Active(now) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Subject < out[j].Subject })
	return out, nil
}

func (r *memRepo) DeleteBlock(ctx context.Context, kind SubjectKind, subject string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.blocks, blockKey(kind, subject))
	return nil
}

func (r *memRepo) DeleteExpiredBlocks(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for key, b := range r.blocks {
		if !b.Active(now) {
			delete(r.blocks, key)
			n++
		}
	}
	return n, nil
}

func (r *memRepo) SetPrincipalBlocked(ctx context.Context, userID int64, reason string, until time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mirrors[userID] = reason
	return nil
}

func (r *memRepo) ClearPrincipalBlocked(ctx context.Context, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.mirrors, userID)
	return nil
}

func (r *memRepo) EventTotals(ctx context.Context, since time.Time) (int64, int64, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total, success, failure int64
	for _, e := range r.events {
		if e.OccurredAt.Before(since) {
			continue
		}
		total++
		if e.Success {
			success++
		} else {
			failure++
		}
	}
	return total, success, failure, nil
}

func (r *memRepo) DistinctCounts(ctx context.Context, since time.Time) (int64, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	origins := map[string]struct{}{}
	principals := map[int64]struct{}{}
	for _, e := range r.events {
		if e.OccurredAt.Before(since) {
			continue
		}
		if e.IP != "" {
			origins[e.IP] = struct{}{}
		}
		if e.UserID != nil {
			principals[*e.UserID] = struct{}{}
		}
	}
	return int64(len(origins)), int64(len(principals)), nil
}

func (r *memRepo) TopFailureOrigins(ctx context.Context, since time.Time, limit int) ([]OriginCount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := map[string]int64{}
	for _, e := range r.events {
		if e.Success || e.IP == "" || e.OccurredAt.Before(since) {
			continue
		}
		counts[e.IP]++
	}
	out := make([]OriginCount, 0, len(counts))
	for ip, n := range counts {
		out = append(out, OriginCount{IP: ip, Failures: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Failures != out[j].Failures {
			return out[i].Failures > out[j].Failures
		}
		return out[i].IP < out[j].IP
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.events[:0]
	var n int64
	for _, e := range r.events {
		if e.OccurredAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	r.events = kept
	return n, nil
}

func (r *memRepo) alertsOfType(alertType AlertType) []Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Alert
	for _, a := range r.alerts {
		if a.Type == alertType {
			out = append(out, a)
		}
	}
	return out
}

func (r *memRepo) blockFor(kind SubjectKind, subject string) (Block, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.blocks[blockKey(kind, subject)]
	return b, ok
}

func (r *memRepo) mirrorReason(userID int64) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reason, ok := r.mirrors[userID]
	return reason, ok
}

var _ Repository = (*memRepo)(nil)

func userIDPtr(id int64) *int64 { return &id }

func subjectFor(userID int64) string { return strconv.FormatInt(userID, 10) }
