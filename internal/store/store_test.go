package store

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Owner  common.Address
	Amount *uint256.Int
	Batch  uint64
}

func TestRLPRoundTripInMemory(t *testing.T) {
	db, err := Open("", false)
	require.NoError(t, err)
	defer db.Close()

	key := Key([]byte("r"), []byte{0x01}, []byte{0x02})
	assert.Equal(t, []byte{'r', 0x01, 0x02}, key)

	var missing record
	found, err := GetRLP(db, key, &missing)
	require.NoError(t, err)
	assert.False(t, found)

	want := record{Owner: common.HexToAddress("0x01"), Amount: uint256.NewInt(42), Batch: 7}
	require.NoError(t, PutRLP(db, key, want))

	var got record
	found, err = GetRLP(db, key, &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, want.Owner, got.Owner)
	assert.Equal(t, want.Batch, got.Batch)
	assert.True(t, want.Amount.Eq(got.Amount))
}

func TestPebblePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	key := []byte("k")

	db, err := Open(dir, false)
	require.NoError(t, err)
	require.NoError(t, PutRLP(db, key, uint64(99)))
	require.NoError(t, db.Close())

	db, err = Open(dir, false)
	require.NoError(t, err)
	defer db.Close()

	var got uint64
	found, err := GetRLP(db, key, &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, uint64(99), got)
}
