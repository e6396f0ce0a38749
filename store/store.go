// Package store defines the transactional key space behind the matching
// engine and an in-memory implementation of it.
//
// The key space has seven parts: geohash cell → append-only driver entries,
// driver address → last published cell, passenger → trip, address →
// balance, the fee scalar, the legacy counter scalar and the TripBooked log.
// A Backend only has to read committed state and apply a Batch atomically;
// read-your-writes inside an invocation is provided by Tx.
package store

import (
	"context"

	"geocab/models"
)

// Backend is a persistent store for the engine's key space.
type Backend interface {
	DriversAt(ctx context.Context, cell string) ([]models.DriverEntry, error)
	Cells(ctx context.Context) ([]string, error)
	DriverCell(ctx context.Context, driver models.Address) (string, bool, error)
	Trip(ctx context.Context, passenger models.Address) (models.Trip, bool, error)
	Balance(ctx context.Context, account models.Address) (uint64, error)
	Fee(ctx context.Context) (uint64, error)
	Number(ctx context.Context) (uint64, error)
	// Events returns up to limit events starting at offset; limit <= 0
	// means no limit.
	Events(ctx context.Context, offset, limit int) ([]models.TripBooked, error)
	// Apply commits every write of b or none of them.
	Apply(ctx context.Context, b *Batch) error
	Close() error
}

// CellAppend is one entry appended to a cell bucket.
type CellAppend struct {
	Cell  string
	Entry models.DriverEntry
}

// Batch collects the writes of one invocation.
type Batch struct {
	Appends  []CellAppend
	Cells    map[models.Address]string
	Trips    map[models.Address]models.Trip
	Balances map[models.Address]uint64
	Fee      *uint64
	Number   *uint64
	Events   []models.TripBooked
}

// Empty reports whether the batch carries no writes.
func (b *Batch) Empty() bool {
	return len(b.Appends) == 0 && len(b.Cells) == 0 && len(b.Trips) == 0 &&
		len(b.Balances) == 0 && b.Fee == nil && b.Number == nil && len(b.Events) == 0
}

// AppendedCells lists the distinct cells that received entries, in first
// append order.
func (b *Batch) AppendedCells() []string {
	seen := make(map[string]struct{}, len(b.Appends))
	var cells []string
	for _, a := range b.Appends {
		if _, ok := seen[a.Cell]; ok {
			continue
		}
		seen[a.Cell] = struct{}{}
		cells = append(cells, a.Cell)
	}
	return cells
}

// window applies offset/limit paging to n items.
func window(n, offset, limit int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if offset > n {
		offset = n
	}
	end := n
	if limit > 0 && offset+limit < n {
		end = offset + limit
	}
	return offset, end
}
