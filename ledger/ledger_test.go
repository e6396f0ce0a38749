package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"geocab/codec"
	"geocab/fixed"
	"geocab/geohash"
	"geocab/matching"
	"geocab/models"
	"geocab/store"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	owner     = models.MustParseAddress("0x80310fa9ce4c318038121c107162b88f1ec14af6")
	escrow    = models.MustParseAddress("0x000000000000000000000000000000000000e5c0")
	driver    = models.MustParseAddress("0xd000000000000000000000000000000000000001")
	passenger = models.MustParseAddress("0xa000000000000000000000000000000000000001")
	stranger  = models.MustParseAddress("0xbad0000000000000000000000000000000000bad")
)

// rejectingTransferer fails every transfer to one recipient.
type rejectingTransferer struct {
	BalanceTransferer
	reject models.Address
}

func (r rejectingTransferer) Transfer(st State, from, to models.Address, amount uint64) error {
	if to == r.reject {
		return errors.New("recipient refused")
	}
	return r.BalanceTransferer.Transfer(st, from, to, amount)
}

func coords(t *testing.T, lat, lon string) models.Coordinates {
	t.Helper()
	la, err := fixed.Parse(lat)
	require.NoError(t, err)
	lo, err := fixed.Parse(lon)
	require.NoError(t, err)
	return models.Coordinates{Lat: codec.FromFixed(la), Lon: codec.FromFixed(lo)}
}

type fixture struct {
	mem    *store.Memory
	ledger *Ledger
}

func newFixture(t *testing.T, transfer Transferer) *fixture {
	mem := store.NewMemory()
	l := New(Config{Owner: owner, EscrowAccount: escrow}, matching.NewMatcher(5), transfer)
	l.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	l.newID = func() uuid.UUID { return uuid.MustParse("00000000-0000-0000-0000-000000000001") }

	// publish one driver at 51.0, 0.0
	c := coords(t, "51.0", "0.0")
	cell, err := geohash.Encode(codec.EncodeCoordinates(c), 5)
	require.NoError(t, err)
	tx := store.Begin(context.Background(), mem)
	tx.AppendDriver(cell, models.DriverEntry{Address: driver, Lat: c.Lat, Lon: c.Lon})
	_, err = tx.Commit()
	require.NoError(t, err)

	return &fixture{mem: mem, ledger: l}
}

// run executes fn in a transaction that commits only on success.
func (f *fixture) run(t *testing.T, fn func(tx *store.Tx) error) error {
	tx := store.Begin(context.Background(), f.mem)
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	_, err := tx.Commit()
	require.NoError(t, err)
	return nil
}

func (f *fixture) balance(t *testing.T, a models.Address) uint64 {
	v, err := f.mem.Balance(context.Background(), a)
	require.NoError(t, err)
	return v
}

func (f *fixture) book(t *testing.T, value uint64) Booking {
	var b Booking
	err := f.run(t, func(tx *store.Tx) error {
		var err error
		b, err = f.ledger.BookTrip(tx, passenger, value, coords(t, "51.0", "0.0"), coords(t, "51.5", "-0.1"))
		return err
	})
	require.NoError(t, err)
	return b
}

func TestBookTrip(t *testing.T) {
	f := newFixture(t, nil)
	b := f.book(t, 100)

	assert.Equal(t, models.Trip{Passenger: passenger, Driver: driver, Value: 100}, b.Trip)
	assert.Equal(t, driver, b.Event.Driver)
	assert.Equal(t, passenger, b.Event.Passenger)
	assert.Equal(t, coords(t, "51.5", "-0.1").Lat, b.Event.DestLat)
	assert.Equal(t, uint64(100), f.balance(t, escrow))

	events, err := f.mem.Events(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []models.TripBooked{b.Event}, events)
}

func TestBookTripNoDrivers(t *testing.T) {
	f := newFixture(t, nil)
	err := f.run(t, func(tx *store.Tx) error {
		_, err := f.ledger.BookTrip(tx, passenger, 100, coords(t, "-33.9", "151.2"), coords(t, "0", "0"))
		return err
	})
	assert.True(t, errors.Is(err, matching.ErrNoDriversAvailable))
	assert.Zero(t, f.balance(t, escrow))

	_, ok, _ := f.mem.Trip(context.Background(), passenger)
	assert.False(t, ok)
}

func TestBookTripOverwritesExistingTrip(t *testing.T) {
	f := newFixture(t, nil)
	f.book(t, 100)
	f.book(t, 40)

	trip, ok, err := f.mem.Trip(context.Background(), passenger)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(40), trip.Value)
	assert.Equal(t, uint64(140), f.balance(t, escrow))
}

func TestCompleteTripPaysDriverAndOwner(t *testing.T) {
	f := newFixture(t, nil)
	f.book(t, 100)
	require.NoError(t, f.run(t, func(tx *store.Tx) error { return f.ledger.SetFee(tx, owner, 10) }))

	var p Payout
	err := f.run(t, func(tx *store.Tx) error {
		var err error
		p, err = f.ledger.CompleteTrip(tx, passenger, true)
		return err
	})
	require.NoError(t, err)
	assert.True(t, p.Paid)
	assert.Equal(t, uint64(90), p.DriverPayment)
	assert.Equal(t, uint64(10), p.Fee)
	assert.Equal(t, uint64(90), f.balance(t, driver))
	assert.Equal(t, uint64(10), f.balance(t, owner))
	assert.Zero(t, f.balance(t, escrow))

	// record is kept after completion
	_, ok, _ := f.mem.Trip(context.Background(), passenger)
	assert.True(t, ok)
}

func TestCompleteTripUnsuccessfulMovesNothing(t *testing.T) {
	f := newFixture(t, nil)
	f.book(t, 100)

	err := f.run(t, func(tx *store.Tx) error {
		p, err := f.ledger.CompleteTrip(tx, passenger, false)
		assert.False(t, p.Paid)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(100), f.balance(t, escrow))
	assert.Zero(t, f.balance(t, driver))

	trip, ok, _ := f.mem.Trip(context.Background(), passenger)
	assert.True(t, ok)
	assert.Equal(t, uint64(100), trip.Value)
}

func TestCompleteTripFeeExceedsValue(t *testing.T) {
	f := newFixture(t, nil)
	f.book(t, 5)
	require.NoError(t, f.run(t, func(tx *store.Tx) error { return f.ledger.SetFee(tx, owner, 10) }))

	err := f.run(t, func(tx *store.Tx) error {
		_, err := f.ledger.CompleteTrip(tx, passenger, true)
		return err
	})
	assert.True(t, errors.Is(err, ErrFeeExceedsValue))
	assert.Equal(t, uint64(5), f.balance(t, escrow))
	assert.Zero(t, f.balance(t, driver))
}

func TestCompleteTripSecondTransferFailureRollsBack(t *testing.T) {
	f := newFixture(t, rejectingTransferer{reject: owner})
	f.book(t, 100)
	require.NoError(t, f.run(t, func(tx *store.Tx) error { return f.ledger.SetFee(tx, owner, 10) }))

	err := f.run(t, func(tx *store.Tx) error {
		_, err := f.ledger.CompleteTrip(tx, passenger, true)
		return err
	})
	assert.True(t, errors.Is(err, ErrTransferFailure))
	assert.Zero(t, f.balance(t, driver))
	assert.Zero(t, f.balance(t, owner))
	assert.Equal(t, uint64(100), f.balance(t, escrow))
}

func TestCompleteTripWithoutTrip(t *testing.T) {
	f := newFixture(t, nil)
	err := f.run(t, func(tx *store.Tx) error {
		_, err := f.ledger.CompleteTrip(tx, passenger, true)
		return err
	})
	assert.True(t, errors.Is(err, ErrNoActiveTrip))

	err = f.run(t, func(tx *store.Tx) error {
		_, err := f.ledger.CompleteTrip(tx, passenger, false)
		return err
	})
	assert.NoError(t, err)
}

func TestSetFeeOwnerOnly(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.run(t, func(tx *store.Tx) error { return f.ledger.SetFee(tx, owner, 7) }))

	err := f.run(t, func(tx *store.Tx) error { return f.ledger.SetFee(tx, stranger, 1) })
	assert.True(t, errors.Is(err, ErrNotOwner))

	fee, err := f.mem.Fee(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(7), fee)
}

func TestFeeReadAtCompletion(t *testing.T) {
	f := newFixture(t, nil)
	f.book(t, 100)
	require.NoError(t, f.run(t, func(tx *store.Tx) error { return f.ledger.SetFee(tx, owner, 25) }))

	require.NoError(t, f.run(t, func(tx *store.Tx) error {
		_, err := f.ledger.CompleteTrip(tx, passenger, true)
		return err
	}))
	assert.Equal(t, uint64(75), f.balance(t, driver))
	assert.Equal(t, uint64(25), f.balance(t, owner))
}

func TestActiveTripDriver(t *testing.T) {
	f := newFixture(t, nil)
	err := f.run(t, func(tx *store.Tx) error {
		d, err := f.ledger.ActiveTripDriver(tx, passenger)
		assert.True(t, d.IsZero())
		return err
	})
	require.NoError(t, err)

	f.book(t, 1)
	err = f.run(t, func(tx *store.Tx) error {
		d, err := f.ledger.ActiveTripDriver(tx, passenger)
		assert.Equal(t, driver, d)
		return err
	})
	require.NoError(t, err)
}

func TestBalanceTransferer(t *testing.T) {
	mem := store.NewMemory()
	tx := store.Begin(context.Background(), mem)
	tx.SetBalance(escrow, 10)

	var bt BalanceTransferer
	assert.True(t, errors.Is(bt.Transfer(tx, escrow, models.Address{}, 1), ErrZeroRecipient))
	assert.True(t, errors.Is(bt.Transfer(tx, escrow, driver, 11), ErrInsufficientFunds))

	tx.SetBalance(driver, ^uint64(0))
	assert.True(t, errors.Is(bt.Transfer(tx, escrow, driver, 1), ErrAmountOverflow))

	require.NoError(t, bt.Transfer(tx, escrow, owner, 4))
	v, _ := tx.Balance(owner)
	assert.Equal(t, uint64(4), v)
	v, _ = tx.Balance(escrow)
	assert.Equal(t, uint64(6), v)
}
