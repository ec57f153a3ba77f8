package inventory

import (
	"context"
	"time"
)

// SelectLot picks the lot an allocation of quantity should draw from, or nil
// when no in-stock candidate has enough unreserved quantity. FIFO orders by
// inbound date, FEFO by expiry date with undated lots last. Ties fall back to
// inbound date then lot number so the choice is deterministic.
func SelectLot(candidates []Lot, quantity int64, strategy AllocationStrategy) *Lot {
	less := lessFIFO
	if strategy == StrategyFEFO {
		less = lessFEFO
	}
	var best *Lot
	for i := range candidates {
		lot := &candidates[i]
		if lot.Status != StatusInStock || lot.Unreserved() < quantity {
			continue
		}
		if best == nil || less(lot, best) {
			best = lot
		}
	}
	if best == nil {
		return nil
	}
	out := *best
	return &out
}

func lessFIFO(a, b *Lot) bool {
	if !a.InboundDate.Equal(b.InboundDate) {
		return a.InboundDate.Before(b.InboundDate)
	}
	if c := compareDates(a.ExpiryDate, b.ExpiryDate); c != 0 {
		return c < 0
	}
	return a.LotNumber < b.LotNumber
}

func lessFEFO(a, b *Lot) bool {
	if c := compareDates(a.ExpiryDate, b.ExpiryDate); c != 0 {
		return c < 0
	}
	if !a.InboundDate.Equal(b.InboundDate) {
		return a.InboundDate.Before(b.InboundDate)
	}
	return a.LotNumber < b.LotNumber
}

// compareDates orders nil after any date.
func compareDates(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	return a.Compare(*b)
}

// SelectLotForAllocation returns the lot to allocate from, or nil when none
// qualifies. A nil lot is not an error; callers decide how to backorder.
func (s *Service) SelectLotForAllocation(ctx context.Context, req AllocationRequest) (*Lot, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, validationError(err)
	}
	inStock, err := s.statuses.Resolve(ctx, DomainLotStatus, StatusInStock)
	if err != nil {
		return nil, err
	}
	candidates, err := s.repo.ListAllocationCandidates(ctx, req, inStock.ID)
	if err != nil {
		return nil, dbError("select lot", err)
	}
	return SelectLot(candidates, req.Quantity, req.Strategy), nil
}
