package jobs

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
)

// DefaultOptions returns the retry and timeout budget for a task type. Cron
// registrations and manual enqueues share it.
func DefaultOptions(taskType string) []asynq.Option {
	switch taskType {
	case TaskHistoryVerify:
		return []asynq.Option{asynq.MaxRetry(3), asynq.Timeout(30 * time.Minute)}
	case TaskLotExpiry:
		return []asynq.Option{asynq.MaxRetry(3), asynq.Timeout(10 * time.Minute)}
	case TaskIdempotencyCleanup:
		return []asynq.Option{asynq.MaxRetry(1), asynq.Timeout(5 * time.Minute)}
	}
	return nil
}

// Client submits inventory tasks to the queue.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) (*Client, error) {
	return &Client{client: asynq.NewClient(redisOpts)}, nil
}

// Enqueue submits task with its default options; opts override them.
func (c *Client) Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	all := append(DefaultOptions(task.Type()), opts...)
	return c.client.EnqueueContext(ctx, task, all...)
}

// EnqueueHistoryVerify enqueues a checksum verification run.
func (c *Client) EnqueueHistoryVerify(ctx context.Context, payload HistoryVerifyPayload) (*asynq.TaskInfo, error) {
	task, err := NewHistoryVerifyTask(payload)
	if err != nil {
		return nil, err
	}
	return c.Enqueue(ctx, task)
}

// EnqueueLotExpiry enqueues an expiry sweep. A second request for the same
// cut-off is rejected with asynq.ErrTaskIDConflict while the first is kept.
func (c *Client) EnqueueLotExpiry(ctx context.Context, payload LotExpiryPayload) (*asynq.TaskInfo, error) {
	task, err := NewLotExpiryTask(payload)
	if err != nil {
		return nil, err
	}
	return c.Enqueue(ctx, task, lotExpiryOptions(payload)...)
}

func lotExpiryOptions(payload LotExpiryPayload) []asynq.Option {
	if payload.AsOf.IsZero() {
		return nil
	}
	return []asynq.Option{asynq.TaskID(TaskLotExpiry + ":" + payload.AsOf.UTC().Format(time.RFC3339))}
}

// EnqueueIdempotencyCleanup enqueues a key pruning run.
func (c *Client) EnqueueIdempotencyCleanup(ctx context.Context, payload IdempotencyCleanupPayload) (*asynq.TaskInfo, error) {
	task, err := NewIdempotencyCleanupTask(payload)
	if err != nil {
		return nil, err
	}
	return c.Enqueue(ctx, task)
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}
