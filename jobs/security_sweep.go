package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/praxisworks/praxis/internal/jobs"
	"github.com/praxisworks/praxis/internal/security"
)

const defaultEventRetentionDays = 90

// SecuritySweepJob removes expired blocks and prunes old events. Pure storage
// hygiene: block reads already filter on expiry, so correctness never depends
// on this job running.
type SecuritySweepJob struct {
	Repo    security.Repository
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewSecuritySweepJob initialises the sweep handler.
func NewSecuritySweepJob(repo security.Repository, logger *slog.Logger, metrics *jobmetrics.Metrics) *SecuritySweepJob {
	return &SecuritySweepJob{
		Repo:    repo,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the sweep.
func (j *SecuritySweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Repo == nil {
		return errors.New("security sweep: handler not configured")
	}
	var payload SecuritySweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.EventRetentionDays <= 0 {
		payload.EventRetentionDays = defaultEventRetentionDays
	}

	tracker := j.metrics().Track(TaskSecuritySweep)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	now := j.now()
	logger := j.logger()
	logger.Info("starting security sweep", slog.Int("event_retention_days", payload.EventRetentionDays))

	blocks, err := j.Repo.DeleteExpiredBlocks(ctx, now)
	if err != nil {
		resultErr = err
		logger.Error("delete expired blocks", slog.Any("error", err))
		return resultErr
	}
	j.metrics().AddPruned(TaskSecuritySweep, "security_blocks", blocks)

	cutoff := now.AddDate(0, 0, -payload.EventRetentionDays)
	events, err := j.Repo.DeleteEventsBefore(ctx, cutoff)
	if err != nil {
		resultErr = err
		logger.Error("prune events", slog.Any("error", err))
		return resultErr
	}
	j.metrics().AddPruned(TaskSecuritySweep, "security_events", events)

	logger.Info("completed security sweep",
		slog.Int64("blocks_removed", blocks),
		slog.Int64("events_pruned", events),
	)
	return resultErr
}

func (j *SecuritySweepJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskSecuritySweep))
	}
	return slog.Default().With(slog.String("job", TaskSecuritySweep))
}

func (j *SecuritySweepJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *SecuritySweepJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
