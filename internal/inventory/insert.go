package inventory

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InsertLots stocks new lots, creating the global item and the warehouse
// aggregate when absent. A lot whose number already exists for the same
// warehouse and item is skipped. Returns the lots actually created.
func (s *Service) InsertLots(ctx context.Context, input InsertLotsInput) ([]Lot, error) {
	start := time.Now()
	if err := s.validateInsert(input); err != nil {
		s.metrics.observeBatch(opInsert, start, err)
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	created, err := s.insertLots(ctx, input)
	s.metrics.observeBatch(opInsert, start, err)
	if err != nil {
		s.logFailure(ctx, opInsert, err)
		return nil, err
	}
	s.logger.InfoContext(ctx, "inventory lots inserted",
		slog.Int("created", len(created)), slog.Int("requested", len(input.Records)), slog.Int64("actor_id", input.ActorID))
	return created, nil
}

func (s *Service) validateInsert(input InsertLotsInput) error {
	if err := s.validate.Struct(input); err != nil {
		return validationError(err)
	}
	for i, rec := range input.Records {
		if !rec.Item.Valid() {
			return entryError(i, uuid.Nil, ErrInvalidItemRef)
		}
		if rec.ManufactureDate != nil && rec.ExpiryDate != nil && rec.ExpiryDate.Before(*rec.ManufactureDate) {
			return entryError(i, uuid.Nil, ErrInvalidDates)
		}
		if rec.Fee != nil && rec.Fee.IsNegative() {
			return entryError(i, uuid.Nil, fieldError("records.fee", "gte"))
		}
	}
	return nil
}

func (s *Service) insertLots(ctx context.Context, input InsertLotsInput) ([]Lot, error) {
	statuses, err := s.loadStatuses(ctx)
	if err != nil {
		return nil, err
	}
	action, err := s.catalog.ActionType(ctx, ActionManualStockInsert)
	if err != nil {
		return nil, err
	}
	var adjTypeID *int64
	if t, err := s.catalog.AdjustmentTypeByName(ctx, AdjustmentManualStockInsert); err == nil {
		adjTypeID = &t.ID
	}
	now := s.timestamp()

	var created []Lot
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		created = created[:0]
		if input.IdempotencyKey != "" {
			if err := tx.ClaimBatchKey(ctx, opInsert, input.IdempotencyKey); err != nil {
				return err
			}
		}
		items, err := s.ensureRows(ctx, tx, statuses, input.Records)
		if err != nil {
			return err
		}

		trail := NewAuditTrail()
		for i, rec := range input.Records {
			item := items[rec.Item.key()]
			lot := Lot{
				ID:              uuid.New(),
				WarehouseID:     rec.WarehouseID,
				InventoryID:     item.ID,
				LotNumber:       rec.LotNumber,
				Quantity:        rec.Quantity,
				ManufactureDate: rec.ManufactureDate,
				ExpiryDate:      rec.ExpiryDate,
				InboundDate:     rec.InboundDate,
			}
			if lot.InboundDate.IsZero() {
				lot.InboundDate = now
			}
			lot.StatusID = statuses.lot[deriveLotStatus(StatusOutOfStock, lot.Quantity, 0)].ID

			inserted, ok, err := tx.InsertLot(ctx, lot, input.ActorID)
			if err != nil {
				return entryError(i, lot.ID, err)
			}
			if !ok {
				s.logger.InfoContext(ctx, "lot already exists, skipping",
					slog.Int("entry", i), slog.Int64("warehouse_id", rec.WarehouseID),
					slog.Int64("inventory_id", item.ID), slog.String("lot_number", rec.LotNumber))
				continue
			}
			if _, _, err := s.cascade(ctx, tx, statuses, inserted.Key(), inserted.Quantity); err != nil {
				return entryError(i, inserted.ID, err)
			}
			trail.AddActivity(ActivityLog{
				InventoryID:      inserted.InventoryID,
				WarehouseID:      inserted.WarehouseID,
				LotID:            inserted.ID,
				ActionTypeID:     action.ID,
				AdjustmentTypeID: adjTypeID,
				QuantityChange:   inserted.Quantity,
				NewQuantity:      inserted.Quantity,
				StatusID:         inserted.StatusID,
				PerformedBy:      input.ActorID,
				PerformedAt:      now,
				Comments:         rec.Comments,
			})
			trail.AddHistory(HistoryLog{
				InventoryID:    inserted.InventoryID,
				WarehouseID:    inserted.WarehouseID,
				LotID:          inserted.ID,
				ActionTypeID:   action.ID,
				QuantityChange: inserted.Quantity,
				NewQuantity:    inserted.Quantity,
				StatusID:       inserted.StatusID,
				RecordedBy:     input.ActorID,
				RecordedAt:     now,
				Comments:       rec.Comments,
			})
			created = append(created, inserted)
		}
		return trail.Flush(ctx, tx)
	})
	if err != nil {
		return nil, dbError("insert lots", err)
	}
	return created, nil
}

// ensureRows creates missing items and warehouse aggregates, then locks them
// in the same order adjustment batches use.
func (s *Service) ensureRows(ctx context.Context, tx TxRepository, statuses statusSet, records []LotInsertRecord) (map[string]InventoryItem, error) {
	type pending struct {
		ref   ItemRef
		index int
	}
	refs := make(map[string]pending)
	for i, rec := range records {
		if _, ok := refs[rec.Item.key()]; !ok {
			refs[rec.Item.key()] = pending{ref: rec.Item, index: i}
		}
	}
	ordered := make([]pending, 0, len(refs))
	for _, p := range refs {
		ordered = append(ordered, p)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ref.less(ordered[j].ref) })

	outOfStock := statuses.aggregate[StatusOutOfStock].ID
	items := make(map[string]InventoryItem, len(ordered))
	for _, p := range ordered {
		item, err := tx.EnsureInventoryItem(ctx, p.ref, outOfStock)
		if err != nil {
			return nil, entryError(p.index, uuid.Nil, err)
		}
		items[p.ref.key()] = item
	}

	fees := make(map[WarehouseKey]decimal.Decimal)
	locks := newLockPlan()
	for i, rec := range records {
		key := WarehouseKey{WarehouseID: rec.WarehouseID, InventoryID: items[rec.Item.key()].ID}
		if _, seen := locks.warehouses[key]; seen {
			continue
		}
		fees[key] = decimal.Zero
		if rec.Fee != nil {
			fees[key] = *rec.Fee
		}
		locks.addWarehouse(key, lockOwner{index: i})
	}
	keys := make([]WarehouseKey, 0, len(fees))
	for k := range fees {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].less(keys[j]) })
	for _, key := range keys {
		wi := WarehouseInventory{WarehouseID: key.WarehouseID, InventoryID: key.InventoryID, Fee: fees[key], StatusID: outOfStock}
		if err := tx.EnsureWarehouseInventory(ctx, wi); err != nil {
			return nil, entryError(locks.warehouses[key].index, uuid.Nil, err)
		}
	}
	if err := locks.lock(ctx, tx); err != nil {
		return nil, err
	}
	return items, nil
}
