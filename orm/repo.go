package orm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned by the OrFail variants when no row matched.
var ErrNotFound = errors.New("record not found")

// Mapping tells a Repo how to move T to and from its table.
type Mapping[T any] struct {
	// Table is the table name.
	Table string

	// PK is the primary key column. It must appear in Columns.
	PK string

	// Columns is the full column list in insert/select order.
	Columns []string

	// SoftDelete marks the table as having a deleted_at column (not
	// listed in Columns). Delete then hides rows instead of removing
	// them and reads filter them out.
	SoftDelete bool

	// Values returns a row's values in Columns order.
	Values func(T) []any

	// Scan reads one row positioned by rows.Next.
	Scan func(*sql.Rows) (T, error)
}

// Repo executes the conventional data-access entry points for one
// table, forwarding the active transaction on every call.
type Repo[T any] struct {
	db      *sql.DB
	m       Mapping[T]
	pkIndex int
	tx      Executor
}

// NewRepo creates a repo over db. It panics when the mapping's primary
// key is not part of the column list, which is a programming error.
func NewRepo[T any](db *sql.DB, m Mapping[T]) *Repo[T] {
	pkIndex := -1
	for i, col := range m.Columns {
		if col == m.PK {
			pkIndex = i
			break
		}
	}
	if pkIndex < 0 {
		panic(fmt.Sprintf("orm: primary key %q is not in the column list of table %q", m.PK, m.Table))
	}
	return &Repo[T]{db: db, m: m, pkIndex: pkIndex}
}

// UseTx returns a variant of the repo pinned to the given handle for
// all subsequent calls. The receiver is unchanged.
func (r *Repo[T]) UseTx(tx Executor) *Repo[T] {
	c := *r
	c.tx = tx
	return &c
}

// executor resolves which handle a call runs on, in order: explicit
// option, pinned handle, ambient transaction, bare connection.
func (r *Repo[T]) executor(ctx context.Context, o Options) Executor {
	if o.Tx != nil {
		return o.Tx
	}
	if r.tx != nil {
		return r.tx
	}
	if exec := ambient(ctx); exec != nil {
		return exec
	}
	return r.db
}

// Create inserts the row.
func (r *Repo[T]) Create(ctx context.Context, row T, opts ...Options) error {
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		r.m.Table, strings.Join(r.m.Columns, ", "), placeholders(len(r.m.Columns)))
	if _, err := r.executor(ctx, first(opts)).ExecContext(ctx, query, r.m.Values(row)...); err != nil {
		return fmt.Errorf("inserting into %s: %w", r.m.Table, err)
	}
	return nil
}

// CreateMany inserts all rows with a single statement.
func (r *Repo[T]) CreateMany(ctx context.Context, rows []T, opts ...Options) error {
	if len(rows) == 0 {
		return nil
	}
	tuple := "(" + placeholders(len(r.m.Columns)) + ")"
	tuples := make([]string, len(rows))
	args := make([]any, 0, len(rows)*len(r.m.Columns))
	for i, row := range rows {
		tuples[i] = tuple
		args = append(args, r.m.Values(row)...)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		r.m.Table, strings.Join(r.m.Columns, ", "), strings.Join(tuples, ", "))
	if _, err := r.executor(ctx, first(opts)).ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting %d rows into %s: %w", len(rows), r.m.Table, err)
	}
	return nil
}

// UpdateOrCreate updates the row matching its primary key, inserting it
// when no row matched.
func (r *Repo[T]) UpdateOrCreate(ctx context.Context, row T, opts ...Options) error {
	exec := r.executor(ctx, first(opts))
	values := r.m.Values(row)

	assigns := make([]string, 0, len(r.m.Columns)-1)
	args := make([]any, 0, len(r.m.Columns))
	for i, col := range r.m.Columns {
		if col == r.m.PK {
			continue
		}
		assigns = append(assigns, col+" = ?")
		args = append(args, values[i])
	}
	args = append(args, values[r.pkIndex])

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?",
		r.m.Table, strings.Join(assigns, ", "), r.m.PK)
	res, err := exec.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating %s: %w", r.m.Table, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating %s: %w", r.m.Table, err)
	}
	if affected > 0 {
		return nil
	}
	return r.Create(ctx, row, opts...)
}

// Save persists the row, updating it when it already exists.
func (r *Repo[T]) Save(ctx context.Context, row T, opts ...Options) error {
	return r.UpdateOrCreate(ctx, row, opts...)
}

// Find returns the row with the given primary key, or nil when there is
// none.
func (r *Repo[T]) Find(ctx context.Context, pk any, opts ...Options) (*T, error) {
	rows, err := r.selectWhere(ctx, first(opts), r.m.PK+" = ?", pk)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// FindOrFail is Find, returning ErrNotFound instead of nil.
func (r *Repo[T]) FindOrFail(ctx context.Context, pk any, opts ...Options) (T, error) {
	row, err := r.Find(ctx, pk, opts...)
	if err != nil {
		var zero T
		return zero, err
	}
	if row == nil {
		var zero T
		return zero, fmt.Errorf("%s %v: %w", r.m.Table, pk, ErrNotFound)
	}
	return *row, nil
}

// FindBy returns all rows whose column equals value.
func (r *Repo[T]) FindBy(ctx context.Context, column string, value any, opts ...Options) ([]T, error) {
	return r.selectWhere(ctx, first(opts), column+" = ?", value)
}

// First returns the row with the smallest primary key, or nil when the
// table is empty.
func (r *Repo[T]) First(ctx context.Context, opts ...Options) (*T, error) {
	rows, err := r.selectRows(ctx, first(opts), "", fmt.Sprintf("ORDER BY %s LIMIT 1", r.m.PK))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// FirstOrFail is First, returning ErrNotFound instead of nil.
func (r *Repo[T]) FirstOrFail(ctx context.Context, opts ...Options) (T, error) {
	row, err := r.First(ctx, opts...)
	if err != nil {
		var zero T
		return zero, err
	}
	if row == nil {
		var zero T
		return zero, fmt.Errorf("%s: %w", r.m.Table, ErrNotFound)
	}
	return *row, nil
}

// Query returns all rows matching the where clause, which may be empty.
func (r *Repo[T]) Query(ctx context.Context, where string, args []any, opts ...Options) ([]T, error) {
	return r.selectWhere(ctx, first(opts), where, args...)
}

// Delete removes the row with the given primary key. On a soft-delete
// table the row is hidden by stamping deleted_at instead.
func (r *Repo[T]) Delete(ctx context.Context, pk any, opts ...Options) error {
	if r.m.SoftDelete {
		query := fmt.Sprintf("UPDATE %s SET deleted_at = ? WHERE %s = ? AND deleted_at IS NULL", r.m.Table, r.m.PK)
		if _, err := r.executor(ctx, first(opts)).ExecContext(ctx, query, time.Now().UTC(), pk); err != nil {
			return fmt.Errorf("soft-deleting from %s: %w", r.m.Table, err)
		}
		return nil
	}
	return r.ForceDelete(ctx, pk, opts...)
}

// ForceDelete removes the row regardless of soft-delete settings.
func (r *Repo[T]) ForceDelete(ctx context.Context, pk any, opts ...Options) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", r.m.Table, r.m.PK)
	if _, err := r.executor(ctx, first(opts)).ExecContext(ctx, query, pk); err != nil {
		return fmt.Errorf("deleting from %s: %w", r.m.Table, err)
	}
	return nil
}

// Restore clears the deleted_at stamp of a soft-deleted row.
func (r *Repo[T]) Restore(ctx context.Context, pk any, opts ...Options) error {
	if !r.m.SoftDelete {
		return fmt.Errorf("table %s is not soft-deletable", r.m.Table)
	}
	query := fmt.Sprintf("UPDATE %s SET deleted_at = NULL WHERE %s = ?", r.m.Table, r.m.PK)
	if _, err := r.executor(ctx, first(opts)).ExecContext(ctx, query, pk); err != nil {
		return fmt.Errorf("restoring in %s: %w", r.m.Table, err)
	}
	return nil
}

func (r *Repo[T]) selectWhere(ctx context.Context, o Options, where string, args ...any) ([]T, error) {
	return r.selectRows(ctx, o, where, "", args...)
}

func (r *Repo[T]) selectRows(ctx context.Context, o Options, where, suffix string, args ...any) ([]T, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", strings.Join(r.m.Columns, ", "), r.m.Table)

	conds := make([]string, 0, 2)
	if where != "" {
		conds = append(conds, where)
	}
	if r.m.SoftDelete {
		conds = append(conds, "deleted_at IS NULL")
	}
	if len(conds) > 0 {
		b.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	if suffix != "" {
		b.WriteString(" " + suffix)
	}

	rows, err := r.executor(ctx, o).QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", r.m.Table, err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		row, err := r.m.Scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning %s row: %w", r.m.Table, err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading %s rows: %w", r.m.Table, err)
	}
	return out, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func first(opts []Options) Options {
	if len(opts) == 0 {
		return Options{}
	}
	return opts[0]
}
