package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-inventory/internal/platform/db"
	"github.com/odyssey-erp/odyssey-inventory/internal/shared"
)

// Error categories. Every error returned by the package matches one of these
// with errors.Is.
var (
	ErrNotFound               = fmt.Errorf("inventory: %w", shared.ErrNotFound)
	ErrValidation             = fmt.Errorf("inventory: %w", shared.ErrValidation)
	ErrInvariantViolation     = fmt.Errorf("inventory: invariant violation: %w", shared.ErrUnprocessable)
	ErrInvalidStateTransition = fmt.Errorf("inventory: invalid state transition: %w", shared.ErrConflict)
	ErrDatabase               = errors.New("inventory: database error")
)

var (
	ErrLotNotFound                = kindError(ErrNotFound, "inventory: lot not found")
	ErrWarehouseInventoryNotFound = kindError(ErrNotFound, "inventory: warehouse inventory not found")
	ErrItemNotFound               = kindError(ErrNotFound, "inventory: inventory item not found")
	ErrWarehouseNotFound          = kindError(ErrNotFound, "inventory: warehouse not found")
	ErrStatusNotFound             = kindError(ErrNotFound, "inventory: status not found")
	ErrAdjustmentTypeNotFound     = kindError(ErrNotFound, "inventory: adjustment type not found")
	ErrAdjustmentTypeInactive     = kindError(ErrNotFound, "inventory: adjustment type inactive")
	ErrActionTypeNotFound         = kindError(ErrNotFound, "inventory: action type not found")

	ErrNegativeStock     = kindError(ErrInvariantViolation, "inventory: negative stock not allowed")
	ErrNegativeAvailable = kindError(ErrInvariantViolation, "inventory: negative available quantity not allowed")

	ErrTerminalLot     = kindError(ErrInvalidStateTransition, "inventory: lot is in a terminal status")
	ErrDepleteEmptyLot = kindError(ErrInvalidStateTransition, "inventory: cannot deplete an out of stock lot")
	ErrDuplicateBatch  = kindError(shared.ErrIdempotencyConflict, "inventory: batch already processed")

	ErrInvalidItemRef = kindError(ErrValidation, "inventory: exactly one of product_ref or identifier required")
	ErrInvalidDates   = kindError(ErrValidation, "inventory: expiry date precedes manufacture date")
)

type categorized struct {
	msg  string
	kind error
}

func kindError(kind error, msg string) error {
	return &categorized{msg: msg, kind: kind}
}

func (e *categorized) Error() string { return e.msg }

func (e *categorized) Unwrap() error { return e.kind }

// EntryError pins a batch failure to the offending entry.
type EntryError struct {
	Index int
	LotID uuid.UUID
	Err   error
}

func (e *EntryError) Error() string {
	if e.LotID == uuid.Nil {
		return fmt.Sprintf("inventory: entry %d: %v", e.Index, e.Err)
	}
	return fmt.Sprintf("inventory: entry %d (lot %s): %v", e.Index, e.LotID, e.Err)
}

func (e *EntryError) Unwrap() error { return e.Err }

func entryError(index int, lotID uuid.UUID, err error) error {
	var existing *EntryError
	if errors.As(err, &existing) {
		return err
	}
	return &EntryError{Index: index, LotID: lotID, Err: err}
}

// ValidationError lists the offending fields of a rejected input.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "inventory: validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		ns := fe.Namespace()
		if i := strings.IndexByte(ns, '.'); i >= 0 {
			ns = ns[i+1:]
		}
		fields[ns] = fe.Tag()
	}
	return &ValidationError{Fields: fields}
}

func fieldError(field, reason string) error {
	return &ValidationError{Fields: map[string]string{field: reason}}
}

// dbError tags infrastructure failures while passing domain errors through.
func dbError(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range []error{ErrNotFound, ErrValidation, ErrInvariantViolation, ErrInvalidStateTransition, ErrDuplicateBatch, ErrDatabase} {
		if errors.Is(err, kind) {
			return err
		}
	}
	if db.IsTransient(err) || db.IsLockTimeout(err) {
		return fmt.Errorf("%w: %s: %w: %w", ErrDatabase, op, shared.ErrUnavailable, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrDatabase, op, err)
}

func asEntryError(err error) (*EntryError, bool) {
	var entry *EntryError
	if errors.As(err, &entry) {
		return entry, true
	}
	return nil, false
}

func isInfrastructure(err error) bool {
	return errors.Is(err, ErrDatabase) || errors.Is(err, context.DeadlineExceeded)
}

func asValidationError(err error) (*ValidationError, bool) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr, true
	}
	return nil, false
}
