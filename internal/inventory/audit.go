package inventory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// AuditWriter persists audit rows in bulk.
type AuditWriter interface {
	InsertLotAdjustments(ctx context.Context, rows []LotAdjustment) (int64, error)
	InsertActivityLogs(ctx context.Context, rows []ActivityLog) (int64, error)
	InsertHistoryLogs(ctx context.Context, rows []HistoryLog) (int64, error)
}

// AuditTrail buffers the rows produced by one batch so they reach the
// database in one statement per table, inside the batch transaction.
type AuditTrail struct {
	adjustments []LotAdjustment
	activities  []ActivityLog
	history     []HistoryLog
}

// NewAuditTrail returns an empty trail.
func NewAuditTrail() *AuditTrail {
	return &AuditTrail{}
}

// AddAdjustment queues a lot adjustment row.
func (t *AuditTrail) AddAdjustment(row LotAdjustment) {
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	t.adjustments = append(t.adjustments, row)
}

// AddActivity queues an activity log row.
func (t *AuditTrail) AddActivity(row ActivityLog) {
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	t.activities = append(t.activities, row)
}

// AddHistory seals and queues a history row.
func (t *AuditTrail) AddHistory(row HistoryLog) {
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	seal(&row)
	t.history = append(t.history, row)
}

// Len returns the number of queued rows.
func (t *AuditTrail) Len() int {
	return len(t.adjustments) + len(t.activities) + len(t.history)
}

// Flush writes every queued row and empties the trail.
func (t *AuditTrail) Flush(ctx context.Context, w AuditWriter) error {
	if len(t.adjustments) > 0 {
		if _, err := w.InsertLotAdjustments(ctx, t.adjustments); err != nil {
			return fmt.Errorf("inventory: write lot adjustments: %w", dbError("insert lot adjustments", err))
		}
	}
	if len(t.activities) > 0 {
		if _, err := w.InsertActivityLogs(ctx, t.activities); err != nil {
			return fmt.Errorf("inventory: write activity logs: %w", dbError("insert activity logs", err))
		}
	}
	if len(t.history) > 0 {
		if _, err := w.InsertHistoryLogs(ctx, t.history); err != nil {
			return fmt.Errorf("inventory: write history logs: %w", dbError("insert history logs", err))
		}
	}
	t.adjustments, t.activities, t.history = nil, nil, nil
	return nil
}
