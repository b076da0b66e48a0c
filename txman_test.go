package txman

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactionalWrapsFunction(t *testing.T) {
	db := &fakeDB{}
	m := NewManager(db, nil, nil)

	lookup := Transactional(m, func(ctx context.Context) (string, error) {
		require.True(t, IsInTransaction(ctx))
		return "hello", nil
	}, nil)

	// Call sites are unchanged: the wrapped function has the same
	// signature as the original.
	v, err := lookup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hello", v)
	assert.Equal(t, 1, db.beginCount())
	assert.Equal(t, 1, db.commitCount())
}

func TestTransactionalReusesAmbientTransaction(t *testing.T) {
	db := &fakeDB{}
	m := NewManager(db, nil, nil)

	inner := Transactional(m, func(ctx context.Context) (string, error) {
		return CurrentTransaction(ctx).ID(), nil
	}, nil)

	var outerID, innerID string
	err := m.Run(context.Background(), func(ctx context.Context) error {
		outerID = CurrentTransaction(ctx).ID()
		var err error
		innerID, err = inner(ctx)
		return err
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, outerID, innerID)
	assert.Equal(t, 1, db.beginCount())
}

func TestRunValueReturnsZeroOnFailure(t *testing.T) {
	db := &fakeDB{}
	m := NewManager(db, nil, nil)

	boom := errors.New("boom")
	v, err := RunValue(context.Background(), m, func(context.Context) (int, error) {
		return 99, boom
	}, nil)

	require.ErrorIs(t, err, boom)
	assert.Zero(t, v)
	assert.Equal(t, 1, db.rollbackCount())
}

func TestTxErrorFormatting(t *testing.T) {
	cause := errors.New("duplicate key")
	err := &TxError{Kind: KindCommit, Connection: "billing", Cause: cause}

	assert.Equal(t, `commit transaction on "billing": duplicate key`, err.Error())
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsCommitFailure(err))
	assert.False(t, IsBeginFailure(err))

	bare := &TxError{Kind: KindBegin, Cause: cause}
	assert.Equal(t, "begin transaction: duplicate key", bare.Error())
}
