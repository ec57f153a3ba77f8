package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-inventory/internal/jobs"
	"github.com/odyssey-erp/odyssey-inventory/internal/inventory"
)

// LotExpirer is satisfied by the inventory service.
type LotExpirer interface {
	ExpireLots(ctx context.Context, asOf time.Time, limit int) (inventory.ExpireResult, error)
}

// LotExpiryJob runs the expiry sweep on a schedule.
type LotExpiryJob struct {
	Expirer LotExpirer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewLotExpiryJob initialises the expiry handler.
func NewLotExpiryJob(expirer LotExpirer, logger *slog.Logger, metrics *jobmetrics.Metrics) *LotExpiryJob {
	return &LotExpiryJob{
		Expirer: expirer,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the sweep for an asynq task.
func (j *LotExpiryJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Expirer == nil {
		return errors.New("lot expiry: handler not configured")
	}
	tracker := j.Metrics.Track(TaskLotExpiry)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	var payload LotExpiryPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		resultErr = fmt.Errorf("lot expiry: decode payload: %v: %w", err, asynq.SkipRetry)
		return resultErr
	}
	asOf := payload.AsOf
	if asOf.IsZero() {
		asOf = j.now()
	}

	logger := j.logger().With(slog.Time("as_of", asOf))
	start := j.now()
	result, err := j.Expirer.ExpireLots(ctx, asOf, payload.Limit)
	// pages committed before a failure still count
	j.Metrics.AddExpiredLots(result.Expired)
	if err != nil {
		resultErr = err
		logger.Error("expiry sweep failed", slog.Int("expired", result.Expired), slog.Any("error", err))
		return resultErr
	}
	logger.Info("completed expiry sweep",
		slog.Int("expired", result.Expired),
		slog.Int("batches", result.Batches),
		slog.Duration("duration", j.now().Sub(start)),
	)
	return resultErr
}

func (j *LotExpiryJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskLotExpiry))
	}
	return slog.Default().With(slog.String("job", TaskLotExpiry))
}

func (j *LotExpiryJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
