package inventory

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

type plannedAdjustment struct {
	index   int
	record  AdjustmentRecord
	adjType AdjustmentType
}

// AdjustLots applies every record inside one transaction, in caller order.
// Any failing entry rolls the whole batch back and is reported as an
// *EntryError. Entries with unknown adjustment types are skipped or fail the
// batch according to ServiceConfig.MissingTypePolicy.
func (s *Service) AdjustLots(ctx context.Context, input AdjustLotsInput) ([]AdjustedLot, error) {
	start := time.Now()
	if err := s.validate.Struct(input); err != nil {
		err = validationError(err)
		s.metrics.observeBatch(opAdjust, start, err)
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	plan, skipped, err := s.planAdjustments(ctx, input.Records)
	s.metrics.countEntries("skipped", skipped)
	if err == nil && len(plan) == 0 {
		err = s.claimSkippedBatch(ctx, input.IdempotencyKey)
		s.metrics.observeBatch(opAdjust, start, err)
		if err != nil {
			s.logFailure(ctx, opAdjust, err)
			return nil, err
		}
		return []AdjustedLot{}, nil
	}
	var adjusted []AdjustedLot
	if err == nil {
		adjusted, err = s.adjustLots(ctx, input, plan)
	}
	s.metrics.observeBatch(opAdjust, start, err)
	if err != nil {
		s.metrics.countEntries("rolled_back", len(plan))
		s.logFailure(ctx, opAdjust, err)
		return nil, err
	}
	s.metrics.countEntries("applied", len(adjusted))
	s.logger.InfoContext(ctx, "inventory adjustments applied",
		slog.Int("applied", len(adjusted)), slog.Int("skipped", skipped), slog.Int64("actor_id", input.ActorID))
	return adjusted, nil
}

// claimSkippedBatch records the key of a batch whose entries were all
// skipped, so a replay stays a no-op after the types come back.
func (s *Service) claimSkippedBatch(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.ClaimBatchKey(ctx, opAdjust, key)
	})
	if err != nil {
		return dbError("claim batch key", err)
	}
	return nil
}

// planAdjustments resolves adjustment types up front, outside any
// transaction, applying the missing type policy.
func (s *Service) planAdjustments(ctx context.Context, records []AdjustmentRecord) ([]plannedAdjustment, int, error) {
	plan := make([]plannedAdjustment, 0, len(records))
	skipped := 0
	for i, rec := range records {
		t, err := s.catalog.AdjustmentType(ctx, rec.AdjustmentTypeID)
		if err == nil && !t.IsActive {
			err = ErrAdjustmentTypeInactive
		}
		if err != nil {
			if errors.Is(err, ErrNotFound) && s.cfg.MissingTypePolicy == MissingTypeSkip {
				s.logger.WarnContext(ctx, "skipping adjustment entry",
					slog.Int("entry", i),
					slog.String("lot_id", rec.LotID.String()),
					slog.Int64("adjustment_type_id", rec.AdjustmentTypeID),
					slog.Any("error", err))
				skipped++
				continue
			}
			return nil, skipped, entryError(i, rec.LotID, err)
		}
		plan = append(plan, plannedAdjustment{index: i, record: rec, adjType: t})
	}
	return plan, skipped, nil
}

func (s *Service) adjustLots(ctx context.Context, input AdjustLotsInput, plan []plannedAdjustment) ([]AdjustedLot, error) {
	statuses, err := s.loadStatuses(ctx)
	if err != nil {
		return nil, err
	}
	action, err := s.catalog.ActionType(ctx, ActionManualAdjustment)
	if err != nil {
		return nil, err
	}
	now := s.timestamp()

	var adjusted []AdjustedLot
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		adjusted = make([]AdjustedLot, 0, len(plan))
		if input.IdempotencyKey != "" {
			if err := tx.ClaimBatchKey(ctx, opAdjust, input.IdempotencyKey); err != nil {
				return err
			}
		}
		locks := newLockPlan()
		for _, entry := range plan {
			locks.addLot(entry.record.LotID, entry.index)
		}
		if err := locks.lock(ctx, tx); err != nil {
			return err
		}

		trail := NewAuditTrail()
		for _, entry := range plan {
			out, err := s.applyAdjustment(ctx, tx, statuses, action, entry, input.ActorID, now, trail)
			if err != nil {
				return entryError(entry.index, entry.record.LotID, err)
			}
			adjusted = append(adjusted, out)
		}
		return trail.Flush(ctx, tx)
	})
	if err != nil {
		return nil, dbError("adjust lots", err)
	}
	return adjusted, nil
}

func (s *Service) applyAdjustment(ctx context.Context, tx TxRepository, statuses statusSet, action ActionType, entry plannedAdjustment, actorID int64, now time.Time, trail *AuditTrail) (AdjustedLot, error) {
	rec := entry.record
	// already locked by the plan; re-read for state left by earlier entries
	lot, err := tx.GetLot(ctx, rec.LotID, true)
	if err != nil {
		return AdjustedLot{}, err
	}
	newQuantity := lot.Quantity + rec.Delta
	if newQuantity < 0 {
		return AdjustedLot{}, ErrNegativeStock
	}
	wh, err := tx.GetWarehouseInventory(ctx, lot.Key(), true)
	if err != nil {
		return AdjustedLot{}, err
	}
	if wh.AvailableQuantity+rec.Delta < 0 {
		return AdjustedLot{}, ErrNegativeAvailable
	}
	if err := checkTransition(lot.Status, rec.Delta); err != nil {
		return AdjustedLot{}, err
	}

	var statusID *int64
	if next := deriveLotStatus(lot.Status, newQuantity, lot.ReservedQuantity); next != lot.Status {
		id := statuses.lot[next].ID
		statusID = &id
	}
	updated, err := tx.ApplyLotDelta(ctx, lot.ID, rec.Delta, 0, statusID)
	if err != nil {
		return AdjustedLot{}, err
	}
	if _, _, err := s.cascade(ctx, tx, statuses, lot.Key(), rec.Delta); err != nil {
		return AdjustedLot{}, err
	}

	if s.catalog.IsAuditWorthy(entry.adjType) {
		trail.AddAdjustment(LotAdjustment{
			LotID:            lot.ID,
			WarehouseID:      lot.WarehouseID,
			InventoryID:      lot.InventoryID,
			AdjustmentTypeID: entry.adjType.ID,
			PreviousQuantity: lot.Quantity,
			AdjustedQuantity: rec.Delta,
			NewQuantity:      updated.Quantity,
			AdjustedBy:       actorID,
			AdjustedAt:       now,
			Comments:         rec.Comments,
			OrderRef:         rec.OrderRef,
		})
	}
	adjTypeID := entry.adjType.ID
	trail.AddActivity(ActivityLog{
		InventoryID:      lot.InventoryID,
		WarehouseID:      lot.WarehouseID,
		LotID:            lot.ID,
		ActionTypeID:     action.ID,
		AdjustmentTypeID: &adjTypeID,
		PreviousQuantity: lot.Quantity,
		QuantityChange:   rec.Delta,
		NewQuantity:      updated.Quantity,
		StatusID:         updated.StatusID,
		OrderRef:         rec.OrderRef,
		PerformedBy:      actorID,
		PerformedAt:      now,
		Comments:         rec.Comments,
	})
	trail.AddHistory(HistoryLog{
		InventoryID:      lot.InventoryID,
		WarehouseID:      lot.WarehouseID,
		LotID:            lot.ID,
		ActionTypeID:     action.ID,
		PreviousQuantity: lot.Quantity,
		QuantityChange:   rec.Delta,
		NewQuantity:      updated.Quantity,
		StatusID:         updated.StatusID,
		RecordedBy:       actorID,
		RecordedAt:       now,
		Comments:         rec.Comments,
	})

	return AdjustedLot{
		LotID:       updated.ID,
		WarehouseID: updated.WarehouseID,
		InventoryID: updated.InventoryID,
		LotNumber:   updated.LotNumber,
		NewQuantity: updated.Quantity,
		Status:      updated.Status,
	}, nil
}
