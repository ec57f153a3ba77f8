package inventory

import (
	"context"
	"log/slog"
	"time"
)

// ExpireResult summarises one expiry sweep.
type ExpireResult struct {
	Expired int `json:"expired"`
	Batches int `json:"batches"`
}

// ExpireLots moves every lot whose expiry date is before asOf into the
// expired status, limit lots per transaction. Quantities are untouched;
// warehouse and item statuses are re-derived. Lots locked by a concurrent
// batch are left for the next sweep.
func (s *Service) ExpireLots(ctx context.Context, asOf time.Time, limit int) (ExpireResult, error) {
	start := time.Now()
	if limit <= 0 {
		limit = 500
	}

	var total ExpireResult
	for {
		page, err := s.expirePage(ctx, asOf, limit)
		if err != nil {
			s.metrics.observeBatch(opExpire, start, err)
			s.logFailure(ctx, opExpire, err)
			if total.Expired > 0 {
				s.logger.WarnContext(ctx, "inventory expiry sweep stopped early",
					slog.Int("expired", total.Expired), slog.Int("batches", total.Batches))
			}
			return total, err
		}
		if page.Expired == 0 {
			break
		}
		total.Expired += page.Expired
		total.Batches++
		if page.Expired < limit {
			break
		}
	}
	s.metrics.observeBatch(opExpire, start, nil)
	if total.Expired > 0 {
		s.logger.InfoContext(ctx, "inventory lots expired",
			slog.Int("expired", total.Expired), slog.Int("batches", total.Batches), slog.Time("as_of", asOf))
	}
	return total, nil
}

func (s *Service) expirePage(ctx context.Context, asOf time.Time, limit int) (ExpireResult, error) {
	if err := ctx.Err(); err != nil {
		return ExpireResult{}, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.expireLots(ctx, asOf, limit)
}

func (s *Service) expireLots(ctx context.Context, asOf time.Time, limit int) (ExpireResult, error) {
	statuses, err := s.loadStatuses(ctx, StatusExpired)
	if err != nil {
		return ExpireResult{}, err
	}
	action, err := s.catalog.ActionType(ctx, ActionLotExpiry)
	if err != nil {
		return ExpireResult{}, err
	}
	now := s.timestamp()
	expiredID := statuses.lot[StatusExpired].ID
	eligible := []int64{statuses.lot[StatusInStock].ID, statuses.lot[StatusOutOfStock].ID}

	var result ExpireResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		result = ExpireResult{}
		lots, err := tx.LockExpiredLots(ctx, asOf, eligible, limit)
		if err != nil {
			return err
		}
		if len(lots) == 0 {
			return nil
		}
		// lots come back locked in id order, the plan only adds aggregates
		locks := newLockPlan()
		for i, lot := range lots {
			locks.addLot(lot.ID, i)
		}
		if err := locks.lock(ctx, tx); err != nil {
			return err
		}

		trail := NewAuditTrail()
		for i, lot := range lots {
			updated, err := tx.ApplyLotDelta(ctx, lot.ID, 0, 0, &expiredID)
			if err != nil {
				return entryError(i, lot.ID, err)
			}
			if _, _, err := s.cascade(ctx, tx, statuses, lot.Key(), 0); err != nil {
				return entryError(i, lot.ID, err)
			}
			trail.AddActivity(ActivityLog{
				InventoryID:      lot.InventoryID,
				WarehouseID:      lot.WarehouseID,
				LotID:            lot.ID,
				ActionTypeID:     action.ID,
				PreviousQuantity: lot.Quantity,
				NewQuantity:      updated.Quantity,
				StatusID:         updated.StatusID,
				PerformedAt:      now,
				Comments:         "lot expired",
			})
			trail.AddHistory(HistoryLog{
				InventoryID:      lot.InventoryID,
				WarehouseID:      lot.WarehouseID,
				LotID:            lot.ID,
				ActionTypeID:     action.ID,
				PreviousQuantity: lot.Quantity,
				NewQuantity:      updated.Quantity,
				StatusID:         updated.StatusID,
				RecordedAt:       now,
				Comments:         "lot expired",
			})
			result.Expired++
		}
		return trail.Flush(ctx, tx)
	})
	if err != nil {
		return ExpireResult{}, dbError("expire lots", err)
	}
	return result, nil
}
