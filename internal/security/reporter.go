package security

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	reportAlertLimit  = 20
	reportOriginLimit = 10
)

// Reporter builds read-only aggregates over the event log and alerts.
// Concurrent requests for the same window share one computation.
type Reporter struct {
	repo  Repository
	group singleflight.Group
	clock func() time.Time
}

// NewReporter constructs a Reporter.
func NewReporter(repo Repository) *Reporter {
	return &Reporter{
		repo: repo,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// SetClock overrides the time source. Test hook.
func (r *Reporter) SetClock(clock func() time.Time) {
	r.clock = clock
}

// GenerateReport aggregates the trailing windowDays of events and alerts.
// An empty event log yields zeroed aggregates, not an error.
func (r *Reporter) GenerateReport(ctx context.Context, windowDays int) (Report, error) {
	if windowDays <= 0 {
		windowDays = 7
	}
	key := fmt.Sprintf("report:%d", windowDays)
	result, err, _ := r.group.Do(key, func() (any, error) {
		return r.build(ctx, windowDays)
	})
	if err != nil {
		return Report{}, err
	}
	return result.(Report), nil
}

func (r *Reporter) build(ctx context.Context, windowDays int) (Report, error) {
	now := r.clock()
	since := now.AddDate(0, 0, -windowDays)

	total, success, failure, err := r.repo.EventTotals(ctx, since)
	if err != nil {
		return Report{}, err
	}
	origins, principals, err := r.repo.DistinctCounts(ctx, since)
	if err != nil {
		return Report{}, err
	}
	alerts, err := r.repo.RecentAlerts(ctx, since, reportAlertLimit)
	if err != nil {
		return Report{}, err
	}
	topOrigins, err := r.repo.TopFailureOrigins(ctx, since, reportOriginLimit)
	if err != nil {
		return Report{}, err
	}

	report := Report{
		WindowDays:         windowDays,
		GeneratedAt:        now,
		TotalEvents:        total,
		SuccessfulEvents:   success,
		FailedEvents:       failure,
		DistinctOrigins:    origins,
		DistinctPrincipals: principals,
		RecentAlerts:       alerts,
		TopFailureOrigins:  topOrigins,
	}
	if report.RecentAlerts == nil {
		report.RecentAlerts = []Alert{}
	}
	if report.TopFailureOrigins == nil {
		report.TopFailureOrigins = []OriginCount{}
	}
	return report, nil
}
