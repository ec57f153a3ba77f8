package inventory

import (
	"context"
	"sort"

	"github.com/google/uuid"
)

// lockPlan takes every row a batch touches in one global order: lots by id,
// then warehouse aggregates by (warehouse, item), then items by id. Batches
// that follow the same order cannot deadlock each other.
type lockPlan struct {
	lots       map[uuid.UUID]int
	warehouses map[WarehouseKey]lockOwner
	items      map[int64]lockOwner
}

// lockOwner remembers which entry first referenced a row so lock failures
// can be reported against it.
type lockOwner struct {
	index int
	lotID uuid.UUID
}

func newLockPlan() *lockPlan {
	return &lockPlan{
		lots:       make(map[uuid.UUID]int),
		warehouses: make(map[WarehouseKey]lockOwner),
		items:      make(map[int64]lockOwner),
	}
}

func (p *lockPlan) addLot(id uuid.UUID, index int) {
	if _, ok := p.lots[id]; !ok {
		p.lots[id] = index
	}
}

func (p *lockPlan) addWarehouse(key WarehouseKey, owner lockOwner) {
	if _, ok := p.warehouses[key]; !ok {
		p.warehouses[key] = owner
	}
	if _, ok := p.items[key.InventoryID]; !ok {
		p.items[key.InventoryID] = owner
	}
}

// lock acquires every row lock. Lots are read first so their owning
// aggregates join the plan.
func (p *lockPlan) lock(ctx context.Context, tx TxRepository) error {
	ids := make([]uuid.UUID, 0, len(p.lots))
	for id := range p.lots {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return lessUUID(ids[i], ids[j]) })
	for _, id := range ids {
		lot, err := tx.GetLot(ctx, id, true)
		if err != nil {
			return entryError(p.lots[id], id, err)
		}
		p.addWarehouse(lot.Key(), lockOwner{index: p.lots[id], lotID: id})
	}

	keys := make([]WarehouseKey, 0, len(p.warehouses))
	for k := range p.warehouses {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].less(keys[j]) })
	for _, k := range keys {
		if _, err := tx.GetWarehouseInventory(ctx, k, true); err != nil {
			owner := p.warehouses[k]
			return entryError(owner.index, owner.lotID, err)
		}
	}

	items := make([]int64, 0, len(p.items))
	for id := range p.items {
		items = append(items, id)
	}
	sort.Slice(items, func(i, j int) bool { return items[i] < items[j] })
	for _, id := range items {
		if _, err := tx.GetInventoryItem(ctx, id, true); err != nil {
			owner := p.items[id]
			return entryError(owner.index, owner.lotID, err)
		}
	}
	return nil
}
