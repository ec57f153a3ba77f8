package inventory

import (
	"context"
	"log/slog"
)

var auditWorthy = map[string]struct{}{
	AdjustmentDamaged:      {},
	AdjustmentLost:         {},
	AdjustmentDefective:    {},
	AdjustmentExpired:      {},
	AdjustmentStolen:       {},
	AdjustmentRecalled:     {},
	AdjustmentAdjustment:   {},
	AdjustmentReclassified: {},
	AdjustmentConversion:   {},
}

// IsAuditWorthy reports whether adjustments of the named type get a
// dedicated audit row. System generated types are excluded.
func IsAuditWorthy(name string) bool {
	_, ok := auditWorthy[normalizeName(name)]
	return ok
}

// Catalog resolves adjustment and action types.
type Catalog struct {
	src          ReferenceSource
	logger       *slog.Logger
	typesByID    *memo[int64, AdjustmentType]
	typesByName  *memo[string, AdjustmentType]
	actionByName *memo[string, ActionType]
}

// NewCatalog builds a catalog over src.
func NewCatalog(src ReferenceSource, opts MemoOptions, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		src:          src,
		logger:       logger,
		typesByID:    newMemo[int64, AdjustmentType](opts),
		typesByName:  newMemo[string, AdjustmentType](opts),
		actionByName: newMemo[string, ActionType](opts),
	}
}

// AdjustmentType returns the type with the given id. Inactive types are
// returned as found; callers decide how to treat them.
func (c *Catalog) AdjustmentType(ctx context.Context, id int64) (AdjustmentType, error) {
	t, err := c.typesByID.get(ctx, id, "id:"+formatInt(id), func(ctx context.Context) (AdjustmentType, error) {
		return c.src.FindAdjustmentType(ctx, id)
	})
	if err != nil {
		return AdjustmentType{}, dbError("resolve adjustment type", err)
	}
	return t, nil
}

// AdjustmentTypeByName returns the type with the given name.
func (c *Catalog) AdjustmentTypeByName(ctx context.Context, name string) (AdjustmentType, error) {
	normalized := normalizeName(name)
	t, err := c.typesByName.get(ctx, normalized, "name:"+normalized, func(ctx context.Context) (AdjustmentType, error) {
		return c.src.FindAdjustmentTypeByName(ctx, normalized)
	})
	if err != nil {
		return AdjustmentType{}, dbError("resolve adjustment type", err)
	}
	return t, nil
}

// ActionType returns the action type with the given name.
func (c *Catalog) ActionType(ctx context.Context, name string) (ActionType, error) {
	normalized := normalizeName(name)
	t, err := c.actionByName.get(ctx, normalized, normalized, func(ctx context.Context) (ActionType, error) {
		return c.src.FindActionType(ctx, normalized)
	})
	if err != nil {
		c.logger.WarnContext(ctx, "action type lookup failed", slog.String("name", normalized), slog.Any("error", err))
		return ActionType{}, dbError("resolve action type", err)
	}
	return t, nil
}

// IsAuditWorthy reports whether t gets a dedicated audit row.
func (c *Catalog) IsAuditWorthy(t AdjustmentType) bool {
	return IsAuditWorthy(t.Name)
}

// Reset forgets every resolved type.
func (c *Catalog) Reset() {
	c.typesByID.forget()
	c.typesByName.forget()
	c.actionByName.forget()
}
