package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/scorecard/internal/jobs"
	"github.com/odyssey-erp/scorecard/internal/periods"
	"github.com/odyssey-erp/scorecard/internal/shared"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// PeriodFreezer is the slice of the periods service used by the jobs.
type PeriodFreezer interface {
	AutoFreeze(ctx context.Context, actor shared.Actor, in periods.AutoFreezeInput, now time.Time) (periods.PeriodWithSnapshots, error)
	AnchoredCompanies(ctx context.Context) ([]uuid.UUID, error)
}

// AutoFreezeEnqueuer submits per-company auto freeze tasks.
type AutoFreezeEnqueuer interface {
	EnqueueAutoFreeze(ctx context.Context, companyID uuid.UUID, referenceDate *time.Time) error
}

// AutoFreezeJob freezes the current window of one company as the system actor.
type AutoFreezeJob struct {
	Service PeriodFreezer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewAutoFreezeJob constructs the job handler.
func NewAutoFreezeJob(service PeriodFreezer, logger *slog.Logger, metrics *jobmetrics.Metrics) *AutoFreezeJob {
	return &AutoFreezeJob{Service: service, Logger: logger, Metrics: metrics, clock: time.Now}
}

// Handle fulfils the asynq.HandlerFunc contract. Domain rejections are not
// retried; conflicts and infrastructure failures are.
func (j *AutoFreezeJob) Handle(ctx context.Context, task *asynq.Task) (err error) {
	if j == nil || j.Service == nil {
		return errors.New("auto freeze: dependencies not configured")
	}
	var payload AutoFreezePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	companyID, err := uuid.Parse(payload.CompanyID)
	if err != nil || companyID == uuid.Nil {
		return asynq.SkipRetry
	}
	in := periods.AutoFreezeInput{CompanyID: companyID}
	if payload.ReferenceDate != "" {
		ref, err := time.Parse(dateLayout, payload.ReferenceDate)
		if err != nil {
			return asynq.SkipRetry
		}
		in.ReferenceDate = &ref
	}

	tracker := j.metrics().Track(TaskAutoFreeze)
	defer func() {
		err = tracker.End(err)
	}()

	logger := j.log().With(slog.String("company_id", companyID.String()))
	result, err := j.Service.AutoFreeze(ctx, shared.SystemActor(), in, j.now())
	if err != nil {
		outcome := periods.Outcome(err)
		switch outcome {
		case "conflict", "error":
			logger.Error("auto freeze", slog.String("outcome", outcome), slog.Any("error", err))
			return err
		default:
			logger.Info("auto freeze skipped", slog.String("outcome", outcome), slog.Any("error", err))
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
	}
	logger.Info("auto freeze done",
		slog.String("period_id", result.Period.ID.String()),
		slog.String("reference_date", result.Period.ReferenceDate.Format(dateLayout)),
		slog.Int("snapshots", len(result.Snapshots)))
	return nil
}

func (j *AutoFreezeJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *AutoFreezeJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskAutoFreeze))
	}
	return slog.Default().With(slog.String("job", TaskAutoFreeze))
}

func (j *AutoFreezeJob) now() time.Time {
	if j != nil && j.clock != nil {
		return j.clock()
	}
	return time.Now()
}

// WithClock overrides the internal clock for deterministic tests.
func (j *AutoFreezeJob) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}

// AutoFreezeSweepJob enqueues one auto freeze task per anchored company.
type AutoFreezeSweepJob struct {
	Service  PeriodFreezer
	Enqueuer AutoFreezeEnqueuer
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewAutoFreezeSweepJob constructs the sweep handler.
func NewAutoFreezeSweepJob(service PeriodFreezer, enqueuer AutoFreezeEnqueuer, logger *slog.Logger, metrics *jobmetrics.Metrics) *AutoFreezeSweepJob {
	return &AutoFreezeSweepJob{Service: service, Enqueuer: enqueuer, Logger: logger, Metrics: metrics}
}

// Handle lists anchored companies and enqueues their tasks. A partial failure
// fails the sweep so asynq retries it; already queued companies are deduplicated.
func (j *AutoFreezeSweepJob) Handle(ctx context.Context, _ *asynq.Task) (err error) {
	if j == nil || j.Service == nil || j.Enqueuer == nil {
		return errors.New("auto freeze sweep: dependencies not configured")
	}
	metrics := j.Metrics
	if metrics == nil {
		metrics = defaultJobMetrics
	}
	tracker := metrics.Track(TaskAutoFreezeSweep)
	defer func() {
		err = tracker.End(err)
	}()

	logger := slog.Default()
	if j.Logger != nil {
		logger = j.Logger
	}
	logger = logger.With(slog.String("job", TaskAutoFreezeSweep))

	companies, err := j.Service.AnchoredCompanies(ctx)
	if err != nil {
		logger.Error("list anchored companies", slog.Any("error", err))
		return err
	}
	var failed []error
	enqueued := 0
	for _, companyID := range companies {
		if err := j.Enqueuer.EnqueueAutoFreeze(ctx, companyID, nil); err != nil {
			logger.Error("enqueue auto freeze", slog.String("company_id", companyID.String()), slog.Any("error", err))
			failed = append(failed, err)
			continue
		}
		enqueued++
	}
	metrics.AddCompanies(TaskAutoFreezeSweep, "enqueued", enqueued)
	metrics.AddCompanies(TaskAutoFreezeSweep, "failed", len(failed))
	logger.Info("auto freeze sweep", slog.Int("companies", len(companies)), slog.Int("enqueued", enqueued))
	return errors.Join(failed...)
}
