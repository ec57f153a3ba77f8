package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// maxParams is the PostgreSQL bind parameter limit per statement.
const maxParams = 65535

// ConflictAction selects the ON CONFLICT behaviour of a bulk insert.
type ConflictAction int

const (
	// ConflictError leaves conflicts to surface as unique violations.
	ConflictError ConflictAction = iota
	// ConflictDoNothing skips rows that collide on the conflict columns.
	ConflictDoNothing
	// ConflictUpdate overwrites UpdateColumns on collision.
	ConflictUpdate
)

// Execer runs a statement; satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// BulkInsert describes a multi-row INSERT.
type BulkInsert struct {
	Table           string
	Columns         []string
	Rows            [][]any
	ConflictColumns []string
	Action          ConflictAction
	UpdateColumns   []string
}

// ErrBulkShape reports a malformed bulk insert description.
var ErrBulkShape = errors.New("platform/db: malformed bulk insert")

func (b BulkInsert) validate() error {
	if b.Table == "" || len(b.Columns) == 0 {
		return fmt.Errorf("%w: table and columns required", ErrBulkShape)
	}
	for i, row := range b.Rows {
		if len(row) != len(b.Columns) {
			return fmt.Errorf("%w: row %d has %d values, want %d", ErrBulkShape, i, len(row), len(b.Columns))
		}
	}
	switch b.Action {
	case ConflictDoNothing:
	case ConflictUpdate:
		if len(b.ConflictColumns) == 0 || len(b.UpdateColumns) == 0 {
			return fmt.Errorf("%w: update on conflict needs conflict and update columns", ErrBulkShape)
		}
	case ConflictError:
	default:
		return fmt.Errorf("%w: unknown conflict action %d", ErrBulkShape, b.Action)
	}
	return nil
}

// ChunkSize is the number of rows that fit in a single statement.
func (b BulkInsert) ChunkSize() int {
	if len(b.Columns) == 0 {
		return 0
	}
	return maxParams / len(b.Columns)
}

// SQL renders the statement and arguments for rows[from:to].
func (b BulkInsert) SQL(from, to int) (string, []any) {
	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(quoteQualified(b.Table))
	sb.WriteString(" (")
	for i, col := range b.Columns {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(pgx.Identifier{col}.Sanitize())
	}
	sb.WriteString(") VALUES ")

	args := make([]any, 0, (to-from)*len(b.Columns))
	n := 1
	for r := from; r < to; r++ {
		if r > from {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for c := range b.Columns {
			if c > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", n)
			n++
		}
		sb.WriteByte(')')
		args = append(args, b.Rows[r]...)
	}

	switch b.Action {
	case ConflictDoNothing:
		sb.WriteString(" ON CONFLICT")
		if len(b.ConflictColumns) > 0 {
			sb.WriteString(" (")
			sb.WriteString(joinIdentifiers(b.ConflictColumns))
			sb.WriteByte(')')
		}
		sb.WriteString(" DO NOTHING")
	case ConflictUpdate:
		sb.WriteString(" ON CONFLICT (")
		sb.WriteString(joinIdentifiers(b.ConflictColumns))
		sb.WriteString(") DO UPDATE SET ")
		for i, col := range b.UpdateColumns {
			if i > 0 {
				sb.WriteString(", ")
			}
			id := pgx.Identifier{col}.Sanitize()
			sb.WriteString(id)
			sb.WriteString(" = EXCLUDED.")
			sb.WriteString(id)
		}
	}
	return sb.String(), args
}

// ExecBulkInsert writes all rows, one statement per chunk, and returns the
// number of rows actually inserted or updated.
func ExecBulkInsert(ctx context.Context, q Execer, b BulkInsert) (int64, error) {
	if len(b.Rows) == 0 {
		return 0, nil
	}
	if err := b.validate(); err != nil {
		return 0, err
	}
	size := b.ChunkSize()
	var total int64
	for from := 0; from < len(b.Rows); from += size {
		to := min(from+size, len(b.Rows))
		sql, args := b.SQL(from, to)
		tag, err := q.Exec(ctx, sql, args...)
		if err != nil {
			return total, fmt.Errorf("platform/db: bulk insert %s: %w", b.Table, err)
		}
		total += tag.RowsAffected()
	}
	return total, nil
}

func quoteQualified(name string) string {
	return pgx.Identifier(strings.Split(name, ".")).Sanitize()
}

func joinIdentifiers(cols []string) string {
	quoted := make([]string, len(cols))
	for i, col := range cols {
		quoted[i] = pgx.Identifier{col}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
