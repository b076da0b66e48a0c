package txman

import (
	"context"
	"database/sql"
	"sync"
)

// fakeDB is an in-memory Beginner that records every transaction it
// opens.
type fakeDB struct {
	mu         sync.Mutex
	begins     int
	failBegins int
	beginErr   error
	commitErr  error
	lastConn   string
	lastOpts   *sql.TxOptions
	txs        []*fakeTx
}

func (f *fakeDB) BeginTx(_ context.Context, connection string, opts *sql.TxOptions) (Tx, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.begins++
	f.lastConn = connection
	f.lastOpts = opts

	if f.failBegins > 0 {
		f.failBegins--
		return nil, f.beginErr
	}

	tx := &fakeTx{commitErr: f.commitErr}
	f.txs = append(f.txs, tx)
	return tx, nil
}

func (f *fakeDB) beginCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.begins
}

func (f *fakeDB) commitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, tx := range f.txs {
		n += tx.commitCount()
	}
	return n
}

func (f *fakeDB) rollbackCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, tx := range f.txs {
		n += tx.rollbackCount()
	}
	return n
}

type fakeTx struct {
	mu          sync.Mutex
	commits     int
	rollbacks   int
	commitErr   error
	rollbackErr error
}

func (t *fakeTx) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.commits++
	return t.commitErr
}

func (t *fakeTx) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollbacks++
	return t.rollbackErr
}

func (t *fakeTx) commitCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.commits
}

func (t *fakeTx) rollbackCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rollbacks
}
