package orm

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/altuslabsxyz/txman"
)

// Item is the test entity.
type Item struct {
	ID   string
	Name string
	Qty  int64
}

func itemMapping(softDelete bool) Mapping[Item] {
	return Mapping[Item]{
		Table:      "items",
		PK:         "id",
		Columns:    []string{"id", "name", "qty"},
		SoftDelete: softDelete,
		Values: func(i Item) []any {
			return []any{i.ID, i.Name, i.Qty}
		},
		Scan: func(rows *sql.Rows) (Item, error) {
			var i Item
			err := rows.Scan(&i.ID, &i.Name, &i.Qty)
			return i, err
		},
	}
}

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
		CREATE TABLE items (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			qty INTEGER NOT NULL,
			deleted_at TIMESTAMP
		)`)
	require.NoError(t, err)
	return db
}

// dbBeginner adapts a bare *sql.DB to txman.Beginner for the ambient
// injection tests.
type dbBeginner struct {
	db *sql.DB
}

func (b dbBeginner) BeginTx(ctx context.Context, _ string, opts *sql.TxOptions) (txman.Tx, error) {
	return b.db.BeginTx(ctx, opts)
}

func TestRepoCRUD(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepo(db, itemMapping(false))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, Item{ID: "a", Name: "anvil", Qty: 3}))
	require.NoError(t, repo.CreateMany(ctx, []Item{
		{ID: "b", Name: "bolt", Qty: 100},
		{ID: "c", Name: "clamp", Qty: 7},
	}))

	got, err := repo.Find(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "anvil", got.Name)

	missing, err := repo.Find(ctx, "zzz")
	require.NoError(t, err)
	assert.Nil(t, missing)

	_, err = repo.FindOrFail(ctx, "zzz")
	require.ErrorIs(t, err, ErrNotFound)

	bolts, err := repo.FindBy(ctx, "name", "bolt")
	require.NoError(t, err)
	require.Len(t, bolts, 1)
	assert.Equal(t, int64(100), bolts[0].Qty)

	first, err := repo.First(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "a", first.ID)

	all, err := repo.Query(ctx, "", nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	some, err := repo.Query(ctx, "qty > ?", []any{5})
	require.NoError(t, err)
	assert.Len(t, some, 2)

	// Save updates an existing row and inserts a new one.
	require.NoError(t, repo.Save(ctx, Item{ID: "a", Name: "anvil", Qty: 4}))
	require.NoError(t, repo.Save(ctx, Item{ID: "d", Name: "drill", Qty: 1}))
	updated, err := repo.FindOrFail(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(4), updated.Qty)
	inserted, err := repo.FindOrFail(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, "drill", inserted.Name)

	require.NoError(t, repo.ForceDelete(ctx, "d"))
	gone, err := repo.Find(ctx, "d")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestRepoSoftDelete(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepo(db, itemMapping(true))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, Item{ID: "a", Name: "anvil", Qty: 3}))

	require.NoError(t, repo.Delete(ctx, "a"))
	hidden, err := repo.Find(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, hidden, "soft-deleted rows are filtered out")

	require.NoError(t, repo.Restore(ctx, "a"))
	back, err := repo.Find(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, back)
	assert.Equal(t, "anvil", back.Name)

	require.NoError(t, repo.ForceDelete(ctx, "a"))
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM items").Scan(&n))
	assert.Zero(t, n, "force delete removes the row entirely")
}

func TestRestoreRejectedWithoutSoftDelete(t *testing.T) {
	repo := NewRepo(newTestDB(t), itemMapping(false))
	err := repo.Restore(context.Background(), "a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not soft-deletable")
}

func TestNewRepoRejectsBadMapping(t *testing.T) {
	m := itemMapping(false)
	m.PK = "uuid"
	assert.Panics(t, func() { NewRepo(newTestDB(t), m) })
}

func TestAmbientTransactionInjected(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepo(db, itemMapping(false))
	m := txman.NewManager(dbBeginner{db: db}, nil, nil)
	ctx := context.Background()

	// A failing unit of work takes its writes with it.
	boom := errors.New("boom")
	err := m.Run(ctx, func(ctx context.Context) error {
		if err := repo.Create(ctx, Item{ID: "a", Name: "anvil", Qty: 1}); err != nil {
			return err
		}
		return boom
	}, nil)
	require.ErrorIs(t, err, boom)

	gone, err := repo.Find(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, gone, "rolled-back insert must not be visible")

	// A successful one commits.
	err = m.Run(ctx, func(ctx context.Context) error {
		return repo.Create(ctx, Item{ID: "b", Name: "bolt", Qty: 2})
	}, nil)
	require.NoError(t, err)

	kept, err := repo.Find(ctx, "b")
	require.NoError(t, err)
	require.NotNil(t, kept)
}

func TestApplyAmbient(t *testing.T) {
	db := newTestDB(t)
	m := txman.NewManager(dbBeginner{db: db}, nil, nil)
	ctx := context.Background()

	// No transaction: options pass through unchanged.
	o := ApplyAmbient(ctx, Options{})
	assert.Nil(t, o.Tx)

	err := m.Run(ctx, func(ctx context.Context) error {
		// Ambient transaction is merged in.
		merged := ApplyAmbient(ctx, Options{})
		assert.NotNil(t, merged.Tx)

		// An explicit handle is never overwritten.
		explicit := &recordingExec{}
		kept := ApplyAmbient(ctx, Options{Tx: explicit})
		assert.Same(t, Executor(explicit), kept.Tx)
		return nil
	}, nil)
	require.NoError(t, err)
}

func TestExplicitHandleWins(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepo(db, itemMapping(false))
	m := txman.NewManager(dbBeginner{db: db}, nil, nil)

	explicit := &recordingExec{}
	err := m.Run(context.Background(), func(ctx context.Context) error {
		return repo.Create(ctx, Item{ID: "x", Name: "xact", Qty: 1}, Options{Tx: explicit})
	}, nil)
	require.NoError(t, err)

	require.Len(t, explicit.execs, 1, "the explicit handle receives the statement")
	row, err := repo.Find(context.Background(), "x")
	require.NoError(t, err)
	assert.Nil(t, row, "the ambient transaction must not have been used")
}

func TestUseTxPinsHandle(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepo(db, itemMapping(false))
	ctx := context.Background()

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)

	pinned := repo.UseTx(tx)
	require.NoError(t, pinned.Create(ctx, Item{ID: "p", Name: "pin", Qty: 1}))
	require.NoError(t, tx.Rollback())

	gone, err := repo.Find(ctx, "p")
	require.NoError(t, err)
	assert.Nil(t, gone, "the pinned handle's rollback discards the insert")
}

// recordingExec is an Executor that swallows statements and records
// them.
type recordingExec struct {
	execs []string
}

func (r *recordingExec) ExecContext(_ context.Context, query string, _ ...any) (sql.Result, error) {
	r.execs = append(r.execs, query)
	return noopResult{}, nil
}

func (r *recordingExec) QueryContext(context.Context, string, ...any) (*sql.Rows, error) {
	return nil, errors.New("not implemented")
}

func (r *recordingExec) QueryRowContext(context.Context, string, ...any) *sql.Row {
	return nil
}

type noopResult struct{}

func (noopResult) LastInsertId() (int64, error) { return 0, nil }
func (noopResult) RowsAffected() (int64, error) { return 1, nil }
