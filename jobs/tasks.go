package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskHistoryVerify recomputes history log checksums.
	TaskHistoryVerify = "inventory:history_verify"
	// TaskLotExpiry moves lots past their expiry date to expired.
	TaskLotExpiry = "inventory:lot_expiry"
	// TaskIdempotencyCleanup prunes claimed batch keys past retention.
	TaskIdempotencyCleanup = "inventory:idempotency_cleanup"
)

// HistoryVerifyPayload scopes a verification run. A zero AfterSeq starts
// from the first row.
type HistoryVerifyPayload struct {
	AfterSeq int64 `json:"after_seq"`
	PageSize int   `json:"page_size"`
}

// LotExpiryPayload carries the sweep cut-off. A zero AsOf means "now".
type LotExpiryPayload struct {
	AsOf  time.Time `json:"as_of"`
	Limit int       `json:"limit"`
}

// NewHistoryVerifyTask constructs a history verification task.
func NewHistoryVerifyTask(payload HistoryVerifyPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskHistoryVerify, body, asynq.Queue(QueueDefault)), nil
}

// NewLotExpiryTask constructs a lot expiry sweep task.
func NewLotExpiryTask(payload LotExpiryPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLotExpiry, body, asynq.Queue(QueueDefault)), nil
}

// IdempotencyCleanupPayload sets how long claimed keys are kept.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewIdempotencyCleanupTask constructs a key pruning task.
func NewIdempotencyCleanupTask(payload IdempotencyCleanupPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
