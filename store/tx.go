package store

import (
	"context"
	"errors"

	"geocab/models"
)

// ErrTxDone is returned by Commit after the transaction has finished.
var ErrTxDone = errors.New("transaction already committed or rolled back")

// Tx buffers the writes of one invocation over a Backend. Reads see the
// backend's committed state overlaid with the pending writes. Nothing
// reaches the backend before Commit.
//
// A Tx is not safe for concurrent use; callers serialize invocations.
type Tx struct {
	ctx     context.Context
	backend Backend
	batch   Batch
	done    bool
}

// Begin starts a transaction.
func Begin(ctx context.Context, backend Backend) *Tx {
	return &Tx{ctx: ctx, backend: backend}
}

// DriversAt returns the committed bucket followed by pending appends.
func (tx *Tx) DriversAt(cell string) ([]models.DriverEntry, error) {
	entries, err := tx.backend.DriversAt(tx.ctx, cell)
	if err != nil {
		return nil, err
	}
	for _, a := range tx.batch.Appends {
		if a.Cell == cell {
			entries = append(entries, a.Entry)
		}
	}
	return entries, nil
}

func (tx *Tx) AppendDriver(cell string, entry models.DriverEntry) {
	tx.batch.Appends = append(tx.batch.Appends, CellAppend{Cell: cell, Entry: entry})
}

func (tx *Tx) DriverCell(driver models.Address) (string, bool, error) {
	if cell, ok := tx.batch.Cells[driver]; ok {
		return cell, true, nil
	}
	return tx.backend.DriverCell(tx.ctx, driver)
}

func (tx *Tx) SetDriverCell(driver models.Address, cell string) {
	if tx.batch.Cells == nil {
		tx.batch.Cells = make(map[models.Address]string)
	}
	tx.batch.Cells[driver] = cell
}

func (tx *Tx) Trip(passenger models.Address) (models.Trip, bool, error) {
	if trip, ok := tx.batch.Trips[passenger]; ok {
		return trip, true, nil
	}
	return tx.backend.Trip(tx.ctx, passenger)
}

func (tx *Tx) PutTrip(trip models.Trip) {
	if tx.batch.Trips == nil {
		tx.batch.Trips = make(map[models.Address]models.Trip)
	}
	tx.batch.Trips[trip.Passenger] = trip
}

func (tx *Tx) Balance(account models.Address) (uint64, error) {
	if v, ok := tx.batch.Balances[account]; ok {
		return v, nil
	}
	return tx.backend.Balance(tx.ctx, account)
}

func (tx *Tx) SetBalance(account models.Address, amount uint64) {
	if tx.batch.Balances == nil {
		tx.batch.Balances = make(map[models.Address]uint64)
	}
	tx.batch.Balances[account] = amount
}

func (tx *Tx) Fee() (uint64, error) {
	if tx.batch.Fee != nil {
		return *tx.batch.Fee, nil
	}
	return tx.backend.Fee(tx.ctx)
}

func (tx *Tx) SetFee(fee uint64) {
	tx.batch.Fee = &fee
}

func (tx *Tx) Number() (uint64, error) {
	if tx.batch.Number != nil {
		return *tx.batch.Number, nil
	}
	return tx.backend.Number(tx.ctx)
}

func (tx *Tx) SetNumber(n uint64) {
	tx.batch.Number = &n
}

func (tx *Tx) AppendEvent(e models.TripBooked) {
	tx.batch.Events = append(tx.batch.Events, e)
}

// Events reads the committed event log only.
func (tx *Tx) Events(offset, limit int) ([]models.TripBooked, error) {
	return tx.backend.Events(tx.ctx, offset, limit)
}

// Cells lists committed cells that hold at least one entry.
func (tx *Tx) Cells() ([]string, error) {
	return tx.backend.Cells(tx.ctx)
}

// Commit applies the pending writes atomically and returns them.
func (tx *Tx) Commit() (Batch, error) {
	if tx.done {
		return Batch{}, ErrTxDone
	}
	tx.done = true
	if tx.batch.Empty() {
		return Batch{}, nil
	}
	if err := tx.backend.Apply(tx.ctx, &tx.batch); err != nil {
		return Batch{}, err
	}
	return tx.batch, nil
}

// Rollback discards the pending writes. It is safe to call after Commit.
func (tx *Tx) Rollback() {
	if tx.done {
		return
	}
	tx.done = true
	tx.batch = Batch{}
}
