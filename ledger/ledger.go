// Package ledger keeps per-passenger trips, the platform fee and escrow
// payouts. Every method runs inside the caller's store transaction and
// returns an error instead of leaving partial writes; the caller rolls the
// transaction back on any error.
package ledger

import (
	"errors"
	"fmt"
	"math/bits"
	"time"

	"geocab/codec"
	"geocab/matching"
	"geocab/models"

	"github.com/google/uuid"
)

var (
	ErrNotOwner          = errors.New("not owner")
	ErrTransferFailure   = errors.New("transfer failed")
	ErrFeeExceedsValue   = errors.New("fee exceeds escrowed value")
	ErrNoActiveTrip      = errors.New("no active trip")
	ErrAmountOverflow    = errors.New("amount overflow")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrZeroRecipient     = errors.New("transfer to zero address")
)

// State is the part of a store transaction the ledger reads and writes.
type State interface {
	matching.Index
	Trip(passenger models.Address) (models.Trip, bool, error)
	PutTrip(trip models.Trip)
	Balance(account models.Address) (uint64, error)
	SetBalance(account models.Address, amount uint64)
	Fee() (uint64, error)
	SetFee(fee uint64)
	AppendEvent(e models.TripBooked)
}

// Transferer moves value between two accounts within st.
type Transferer interface {
	Transfer(st State, from, to models.Address, amount uint64) error
}

// BalanceTransferer moves store-held balances. It refuses the zero address
// as recipient and never lets a balance go negative or wrap.
type BalanceTransferer struct{}

func (BalanceTransferer) Transfer(st State, from, to models.Address, amount uint64) error {
	if to.IsZero() {
		return ErrZeroRecipient
	}
	fromBal, err := st.Balance(from)
	if err != nil {
		return err
	}
	if fromBal < amount {
		return fmt.Errorf("%w: %s holds %d, needs %d", ErrInsufficientFunds, from, fromBal, amount)
	}
	if from == to {
		return nil
	}
	toBal, err := st.Balance(to)
	if err != nil {
		return err
	}
	sum, carry := bits.Add64(toBal, amount, 0)
	if carry != 0 {
		return fmt.Errorf("%w: balance of %s", ErrAmountOverflow, to)
	}
	st.SetBalance(from, fromBal-amount)
	st.SetBalance(to, sum)
	return nil
}

// Config holds the identities fixed for the lifetime of a Ledger.
type Config struct {
	Owner         models.Address
	EscrowAccount models.Address
}

// Ledger books and settles trips.
type Ledger struct {
	owner    models.Address
	escrow   models.Address
	matcher  *matching.Matcher
	transfer Transferer
	now      func() time.Time
	newID    func() uuid.UUID
}

func New(cfg Config, matcher *matching.Matcher, transfer Transferer) *Ledger {
	if transfer == nil {
		transfer = BalanceTransferer{}
	}
	return &Ledger{
		owner:    cfg.Owner,
		escrow:   cfg.EscrowAccount,
		matcher:  matcher,
		transfer: transfer,
		now:      time.Now,
		newID:    uuid.New,
	}
}

func (l *Ledger) Owner() models.Address {
	return l.owner
}

func (l *Ledger) EscrowAccount() models.Address {
	return l.escrow
}

// Booking is the result of a successful BookTrip.
type Booking struct {
	Trip  models.Trip
	Event models.TripBooked
	Match matching.Match
}

// BookTrip deposits value into escrow, matches the nearest driver to origin
// and records the trip, replacing any earlier trip of the passenger.
func (l *Ledger) BookTrip(st State, passenger models.Address, value uint64, origin, destination models.Coordinates) (Booking, error) {
	if err := l.deposit(st, value); err != nil {
		return Booking{}, err
	}
	match, err := l.matcher.FindNearestDriver(st, codec.EncodeCoordinates(origin))
	if err != nil {
		return Booking{}, err
	}
	trip := models.Trip{
		Passenger: passenger,
		Driver:    match.Driver.Address,
		Value:     value,
	}
	st.PutTrip(trip)
	event := models.TripBooked{
		ID:        l.newID(),
		Passenger: passenger,
		Driver:    trip.Driver,
		DestLat:   destination.Lat,
		DestLon:   destination.Lon,
		BookedAt:  l.now().UTC(),
	}
	st.AppendEvent(event)
	return Booking{Trip: trip, Event: event, Match: match}, nil
}

func (l *Ledger) deposit(st State, value uint64) error {
	if value == 0 {
		return nil
	}
	bal, err := st.Balance(l.escrow)
	if err != nil {
		return err
	}
	sum, carry := bits.Add64(bal, value, 0)
	if carry != 0 {
		return fmt.Errorf("%w: escrow deposit of %d", ErrAmountOverflow, value)
	}
	st.SetBalance(l.escrow, sum)
	return nil
}

// Payout describes the transfers of a settled trip.
type Payout struct {
	Trip          models.Trip
	Fee           uint64
	DriverPayment uint64
	Paid          bool
}

// CompleteTrip settles the caller's trip. With success the driver receives
// value minus the current fee and the owner the fee; otherwise nothing
// moves. The trip record is kept either way.
func (l *Ledger) CompleteTrip(st State, caller models.Address, success bool) (Payout, error) {
	trip, ok, err := st.Trip(caller)
	if err != nil {
		return Payout{}, err
	}
	if !success {
		return Payout{Trip: trip}, nil
	}
	if !ok {
		return Payout{}, fmt.Errorf("%w for %s", ErrNoActiveTrip, caller)
	}
	fee, err := st.Fee()
	if err != nil {
		return Payout{}, err
	}
	if fee > trip.Value {
		return Payout{}, fmt.Errorf("%w: fee %d, value %d", ErrFeeExceedsValue, fee, trip.Value)
	}
	payment := trip.Value - fee
	if err := l.transfer.Transfer(st, l.escrow, trip.Driver, payment); err != nil {
		return Payout{}, fmt.Errorf("%w: driver payment to %s: %w", ErrTransferFailure, trip.Driver, err)
	}
	if err := l.transfer.Transfer(st, l.escrow, l.owner, fee); err != nil {
		return Payout{}, fmt.Errorf("%w: fee to %s: %w", ErrTransferFailure, l.owner, err)
	}
	return Payout{Trip: trip, Fee: fee, DriverPayment: payment, Paid: true}, nil
}

// SetFee changes the fee used by later completions. Only the owner may call
// it.
func (l *Ledger) SetFee(st State, caller models.Address, fee uint64) error {
	if caller != l.owner {
		return fmt.Errorf("%w: %s", ErrNotOwner, caller)
	}
	st.SetFee(fee)
	return nil
}

// ActiveTripDriver returns the driver of the caller's trip, or the zero
// address.
func (l *Ledger) ActiveTripDriver(st State, caller models.Address) (models.Address, error) {
	trip, _, err := st.Trip(caller)
	if err != nil {
		return models.Address{}, err
	}
	return trip.Driver, nil
}
