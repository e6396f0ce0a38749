package store

import (
	"context"
	"errors"
	"testing"

	"geocab/fixed"
	"geocab/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = models.MustParseAddress("0x00000000000000000000000000000000000a11ce")
	bob   = models.MustParseAddress("0x0000000000000000000000000000000000000b0b")
)

func entry(a models.Address, lat int64) models.DriverEntry {
	return models.DriverEntry{Address: a, Lat: fixed.Int128{Hi: lat}}
}

func TestTxReadsOwnWrites(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()

	tx := Begin(ctx, mem)
	tx.AppendDriver("gcpfp", entry(alice, 51))
	tx.SetDriverCell(alice, "gcpfp")
	tx.PutTrip(models.Trip{Passenger: bob, Driver: alice, Value: 100})
	tx.SetBalance(alice, 7)
	tx.SetFee(10)
	tx.SetNumber(3)

	drivers, err := tx.DriversAt("gcpfp")
	require.NoError(t, err)
	assert.Equal(t, []models.DriverEntry{entry(alice, 51)}, drivers)

	cell, ok, err := tx.DriverCell(alice)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "gcpfp", cell)

	trip, ok, err := tx.Trip(bob)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(100), trip.Value)

	fee, err := tx.Fee()
	require.NoError(t, err)
	assert.Equal(t, uint64(10), fee)

	// nothing visible outside the transaction yet
	committed, err := mem.DriversAt(ctx, "gcpfp")
	require.NoError(t, err)
	assert.Empty(t, committed)
	_, ok, _ = mem.Trip(ctx, bob)
	assert.False(t, ok)

	batch, err := tx.Commit()
	require.NoError(t, err)
	assert.Equal(t, []string{"gcpfp"}, batch.AppendedCells())

	committed, err = mem.DriversAt(ctx, "gcpfp")
	require.NoError(t, err)
	assert.Len(t, committed, 1)
	n, _ := mem.Number(ctx)
	assert.Equal(t, uint64(3), n)
	bal, _ := mem.Balance(ctx, alice)
	assert.Equal(t, uint64(7), bal)

	_, err = tx.Commit()
	assert.True(t, errors.Is(err, ErrTxDone))
}

func TestTxRollback(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()

	tx := Begin(ctx, mem)
	tx.AppendDriver("gcpfp", entry(alice, 51))
	tx.SetFee(99)
	tx.AppendEvent(models.TripBooked{Passenger: bob, Driver: alice})
	tx.Rollback()

	_, err := tx.Commit()
	assert.True(t, errors.Is(err, ErrTxDone))

	cells, err := mem.Cells(ctx)
	require.NoError(t, err)
	assert.Empty(t, cells)
	fee, _ := mem.Fee(ctx)
	assert.Zero(t, fee)
	events, _ := mem.Events(ctx, 0, 0)
	assert.Empty(t, events)
}

func TestBucketsKeepOrderAndDuplicates(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()

	tx := Begin(ctx, mem)
	tx.AppendDriver("gcpfp", entry(alice, 51))
	tx.AppendDriver("u1040", entry(bob, 51))
	_, err := tx.Commit()
	require.NoError(t, err)

	tx = Begin(ctx, mem)
	tx.AppendDriver("gcpfp", entry(bob, 50))
	tx.AppendDriver("gcpfp", entry(alice, 51))
	got, err := tx.DriversAt("gcpfp")
	require.NoError(t, err)
	assert.Equal(t, []models.DriverEntry{entry(alice, 51), entry(bob, 50), entry(alice, 51)}, got)
	_, err = tx.Commit()
	require.NoError(t, err)

	cells, err := mem.Cells(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"gcpfp", "u1040"}, cells)
}

func TestMemoryEventsPaging(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	tx := Begin(ctx, mem)
	for i := 0; i < 5; i++ {
		tx.AppendEvent(models.TripBooked{DestLat: fixed.Int128FromInt64(int64(i))})
	}
	_, err := tx.Commit()
	require.NoError(t, err)

	page, err := mem.Events(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, fixed.Int128FromInt64(1), page[0].DestLat)
	assert.Equal(t, fixed.Int128FromInt64(2), page[1].DestLat)

	all, _ := mem.Events(ctx, 0, 0)
	assert.Len(t, all, 5)
	none, _ := mem.Events(ctx, 10, 2)
	assert.Empty(t, none)
}
