package store

import (
	"context"
	"sort"
	"sync"

	"geocab/models"
)

// Memory is a process-local Backend. Apply swaps state under one lock, so
// it cannot partially fail.
type Memory struct {
	mu       sync.RWMutex
	buckets  map[string][]models.DriverEntry
	grid     map[models.Address]string
	trips    map[models.Address]models.Trip
	balances map[models.Address]uint64
	fee      uint64
	number   uint64
	events   []models.TripBooked
}

func NewMemory() *Memory {
	return &Memory{
		buckets:  make(map[string][]models.DriverEntry),
		grid:     make(map[models.Address]string),
		trips:    make(map[models.Address]models.Trip),
		balances: make(map[models.Address]uint64),
	}
}

func (m *Memory) DriversAt(_ context.Context, cell string) ([]models.DriverEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.DriverEntry(nil), m.buckets[cell]...), nil
}

func (m *Memory) Cells(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cells := make([]string, 0, len(m.buckets))
	for cell := range m.buckets {
		cells = append(cells, cell)
	}
	sort.Strings(cells)
	return cells, nil
}

func (m *Memory) DriverCell(_ context.Context, driver models.Address) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cell, ok := m.grid[driver]
	return cell, ok, nil
}

func (m *Memory) Trip(_ context.Context, passenger models.Address) (models.Trip, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	trip, ok := m.trips[passenger]
	return trip, ok, nil
}

func (m *Memory) Balance(_ context.Context, account models.Address) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balances[account], nil
}

func (m *Memory) Fee(_ context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fee, nil
}

func (m *Memory) Number(_ context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.number, nil
}

func (m *Memory) Events(_ context.Context, offset, limit int) ([]models.TripBooked, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	start, end := window(len(m.events), offset, limit)
	return append([]models.TripBooked(nil), m.events[start:end]...), nil
}

func (m *Memory) Apply(_ context.Context, b *Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range b.Appends {
		m.buckets[a.Cell] = append(m.buckets[a.Cell], a.Entry)
	}
	for driver, cell := range b.Cells {
		m.grid[driver] = cell
	}
	for passenger, trip := range b.Trips {
		m.trips[passenger] = trip
	}
	for account, amount := range b.Balances {
		m.balances[account] = amount
	}
	if b.Fee != nil {
		m.fee = *b.Fee
	}
	if b.Number != nil {
		m.number = *b.Number
	}
	m.events = append(m.events, b.Events...)
	return nil
}

func (m *Memory) Close() error {
	return nil
}
