package inventory

import (
	"context"
	"fmt"
	"log/slog"
)

type statusNameKey struct {
	domain StatusDomain
	name   StatusName
}

type statusIDKey struct {
	domain StatusDomain
	id     int64
}

// StatusResolver maps status names to rows and back. Names are matched case
// insensitively and resolved rows are kept as MemoOptions allows.
type StatusResolver struct {
	src    ReferenceSource
	logger *slog.Logger
	byName *memo[statusNameKey, Status]
	byID   *memo[statusIDKey, Status]
}

// NewStatusResolver builds a resolver over src.
func NewStatusResolver(src ReferenceSource, opts MemoOptions, logger *slog.Logger) *StatusResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusResolver{
		src:    src,
		logger: logger,
		byName: newMemo[statusNameKey, Status](opts),
		byID:   newMemo[statusIDKey, Status](opts),
	}
}

// Resolve returns the status called name within domain.
func (r *StatusResolver) Resolve(ctx context.Context, domain StatusDomain, name StatusName) (Status, error) {
	if err := checkDomain(domain); err != nil {
		return Status{}, err
	}
	normalized := StatusName(normalizeName(string(name)))
	if normalized == "" {
		return Status{}, fieldError("status", "required")
	}
	key := statusNameKey{domain: domain, name: normalized}
	st, err := r.byName.get(ctx, key, "name:"+string(domain)+":"+string(normalized), func(ctx context.Context) (Status, error) {
		return r.src.FindStatus(ctx, domain, normalized)
	})
	if err != nil {
		r.logger.WarnContext(ctx, "status lookup failed",
			slog.String("domain", string(domain)), slog.String("name", string(normalized)), slog.Any("error", err))
		return Status{}, dbError("resolve status", err)
	}
	return st, nil
}

// ResolveID returns the status with the given id within domain.
func (r *StatusResolver) ResolveID(ctx context.Context, domain StatusDomain, id int64) (Status, error) {
	if err := checkDomain(domain); err != nil {
		return Status{}, err
	}
	key := statusIDKey{domain: domain, id: id}
	st, err := r.byID.get(ctx, key, "id:"+string(domain)+":"+formatInt(id), func(ctx context.Context) (Status, error) {
		return r.src.FindStatusByID(ctx, domain, id)
	})
	if err != nil {
		return Status{}, dbError("resolve status id", err)
	}
	return st, nil
}

// Reset forgets every resolved status.
func (r *StatusResolver) Reset() {
	r.byName.forget()
	r.byID.forget()
}

func checkDomain(domain StatusDomain) error {
	switch domain {
	case DomainLotStatus, DomainStatus:
		return nil
	}
	return fmt.Errorf("%w: unknown status domain %q", ErrValidation, domain)
}
