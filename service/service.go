// Package service owns the driver index and the trip ledger. Every public
// operation is one unit of work: writers are serialized by a single lock,
// run against one store transaction and either commit all of their writes
// or none of them.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/bits"
	"sync"

	"geocab/codec"
	"geocab/geohash"
	"geocab/ledger"
	"geocab/logger"
	"geocab/matching"
	"geocab/metrics"
	"geocab/models"
	"geocab/store"
)

// Notifier receives committed TripBooked events.
type Notifier interface {
	NotifyTripBooked(e models.TripBooked)
}

type Config struct {
	Precision     uint
	Owner         models.Address
	EscrowAccount models.Address
}

type Option func(*Service)

// WithTransferer replaces the store-balance transfer primitive.
func WithTransferer(t ledger.Transferer) Option {
	return func(s *Service) { s.transfer = t }
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

type Service struct {
	mu       sync.RWMutex
	backend  store.Backend
	matcher  *matching.Matcher
	ledger   *ledger.Ledger
	transfer ledger.Transferer
	cells    *geohash.CellTree
	notifier Notifier
	log      *slog.Logger
}

func New(backend store.Backend, cfg Config, opts ...Option) (*Service, error) {
	if cfg.Precision == 0 || cfg.Precision > geohash.MaxPrecision {
		return nil, fmt.Errorf("unsupported geohash precision %d", cfg.Precision)
	}
	if cfg.Owner.IsZero() {
		return nil, errors.New("owner address is required")
	}
	s := &Service{
		backend: backend,
		matcher: matching.NewMatcher(cfg.Precision),
		cells:   geohash.NewCellTree(),
		log:     logger.L(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ledger = ledger.New(ledger.Config{Owner: cfg.Owner, EscrowAccount: cfg.EscrowAccount}, s.matcher, s.transfer)
	return s, nil
}

// Owner is the identity allowed to change the fee.
func (s *Service) Owner() models.Address {
	return s.ledger.Owner()
}

// EscrowAccount holds deposits until trips settle.
func (s *Service) EscrowAccount() models.Address {
	return s.ledger.EscrowAccount()
}

// update runs fn as one writer invocation.
func (s *Service) update(ctx context.Context, fn func(tx *store.Tx) error) (store.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := store.Begin(ctx, s.backend)
	if err := fn(tx); err != nil {
		tx.Rollback()
		return store.Batch{}, err
	}
	batch, err := tx.Commit()
	if err != nil {
		return store.Batch{}, fmt.Errorf("commit: %w", err)
	}
	s.afterCommit(batch)
	return batch, nil
}

// view runs fn against committed state; its writes are discarded.
func (s *Service) view(ctx context.Context, fn func(tx *store.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx := store.Begin(ctx, s.backend)
	defer tx.Rollback()
	return fn(tx)
}

func (s *Service) afterCommit(batch store.Batch) {
	for _, cell := range batch.AppendedCells() {
		if err := s.cells.Insert(cell); err != nil {
			s.log.Warn("cell_tree_insert_failed", "cell", cell, "err", err)
		}
	}
	if s.notifier != nil {
		for _, e := range batch.Events {
			s.notifier.NotifyTripBooked(e)
		}
	}
}

// WarmCellTree indexes every cell already present in the backend.
func (s *Service) WarmCellTree(ctx context.Context) error {
	return s.view(ctx, func(tx *store.Tx) error {
		cells, err := tx.Cells()
		if err != nil {
			return err
		}
		for _, cell := range cells {
			if err := s.cells.Insert(cell); err != nil {
				return err
			}
		}
		s.log.Info("cell_tree_warmed", "cells", len(cells))
		return nil
	})
}

// PublishDriverLocations records each position in order: the driver's
// directory entry is overwritten and an entry is appended to the cell
// bucket. One bad coordinate aborts the whole batch.
func (s *Service) PublishDriverLocations(ctx context.Context, drivers []models.DriverEntry) error {
	_, err := s.update(ctx, func(tx *store.Tx) error {
		for i, d := range drivers {
			cell, err := geohash.Encode(codec.EntryLocation(d), s.matcher.Precision())
			if err != nil {
				return fmt.Errorf("driver %d (%s): %w", i, d.Address, err)
			}
			tx.SetDriverCell(d.Address, cell)
			tx.AppendDriver(cell, d)
		}
		n, err := tx.Number()
		if err != nil {
			return err
		}
		return bumpNumber(tx, n, uint64(len(drivers)))
	})
	if err != nil {
		s.log.Warn("publish_failed", "drivers", len(drivers), "err", err)
		return err
	}
	metrics.PublishedEntriesTotal.Add(float64(len(drivers)))
	s.log.Debug("drivers_published", "drivers", len(drivers))
	return nil
}

// DriversAtGeohash lists the addresses in a cell bucket in insertion order,
// stale and duplicate entries included.
func (s *Service) DriversAtGeohash(ctx context.Context, cell string) ([]models.Address, error) {
	var addrs []models.Address
	err := s.view(ctx, func(tx *store.Tx) error {
		entries, err := tx.DriversAt(cell)
		if err != nil {
			return err
		}
		addrs = make([]models.Address, 0, len(entries))
		for _, e := range entries {
			addrs = append(addrs, e.Address)
		}
		return nil
	})
	return addrs, err
}

// Neighbors returns the eight compass neighbors of cell.
func (s *Service) Neighbors(cell string) ([]string, error) {
	return geohash.GetNeighbors(cell)
}

// DriverCell returns the cell a driver last published into.
func (s *Service) DriverCell(ctx context.Context, driver models.Address) (string, bool, error) {
	var (
		cell string
		ok   bool
	)
	err := s.view(ctx, func(tx *store.Tx) error {
		var err error
		cell, ok, err = tx.DriverCell(driver)
		return err
	})
	return cell, ok, err
}

// NearbyCells lists occupied cells within radius degrees of a point.
func (s *Service) NearbyCells(lat, lon, radius float64) []string {
	return s.cells.SearchNearby(lat, lon, radius)
}

// BookTrip escrows value, matches the nearest driver to origin and records
// the passenger's trip.
func (s *Service) BookTrip(ctx context.Context, passenger models.Address, value uint64, origin, destination models.Coordinates) (ledger.Booking, error) {
	var booking ledger.Booking
	_, err := s.update(ctx, func(tx *store.Tx) error {
		var err error
		booking, err = s.ledger.BookTrip(tx, passenger, value, origin, destination)
		return err
	})
	metrics.BookingsTotal.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		s.log.Info("booking_failed", "passenger", passenger, "err", err)
		return ledger.Booking{}, err
	}
	metrics.MatchCandidates.Observe(float64(booking.Match.Candidates))
	s.log.Info("trip_booked",
		"passenger", passenger,
		"driver", booking.Trip.Driver,
		"value", value,
		"candidates", booking.Match.Candidates,
	)
	return booking, nil
}

// CompleteTrip settles the caller's trip.
func (s *Service) CompleteTrip(ctx context.Context, caller models.Address, success bool) (ledger.Payout, error) {
	var payout ledger.Payout
	_, err := s.update(ctx, func(tx *store.Tx) error {
		var err error
		payout, err = s.ledger.CompleteTrip(tx, caller, success)
		return err
	})
	metrics.CompletionsTotal.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		s.log.Warn("completion_failed", "passenger", caller, "success", success, "err", err)
		return ledger.Payout{}, err
	}
	s.log.Info("trip_completed",
		"passenger", caller,
		"paid", payout.Paid,
		"driver", payout.Trip.Driver,
		"driver_payment", payout.DriverPayment,
		"fee", payout.Fee,
	)
	return payout, nil
}

// SetFee changes the platform fee; only the owner may call it.
func (s *Service) SetFee(ctx context.Context, caller models.Address, fee uint64) error {
	_, err := s.update(ctx, func(tx *store.Tx) error {
		return s.ledger.SetFee(tx, caller, fee)
	})
	metrics.FeeChangesTotal.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		s.log.Warn("set_fee_failed", "caller", caller, "err", err)
		return err
	}
	s.log.Info("fee_changed", "fee", fee)
	return nil
}

// InitFee sets the fee at startup if none has been stored yet.
func (s *Service) InitFee(ctx context.Context, fee uint64) error {
	if fee == 0 {
		return nil
	}
	_, err := s.update(ctx, func(tx *store.Tx) error {
		current, err := tx.Fee()
		if err != nil || current != 0 {
			return err
		}
		tx.SetFee(fee)
		return nil
	})
	return err
}

func (s *Service) Fee(ctx context.Context) (uint64, error) {
	var fee uint64
	err := s.view(ctx, func(tx *store.Tx) error {
		var err error
		fee, err = tx.Fee()
		return err
	})
	return fee, err
}

// ActiveTripDriver returns the driver of the caller's trip or the zero
// address.
func (s *Service) ActiveTripDriver(ctx context.Context, caller models.Address) (models.Address, error) {
	var driver models.Address
	err := s.view(ctx, func(tx *store.Tx) error {
		var err error
		driver, err = s.ledger.ActiveTripDriver(tx, caller)
		return err
	})
	return driver, err
}

// Trip returns the caller's full trip record.
func (s *Service) Trip(ctx context.Context, caller models.Address) (models.Trip, bool, error) {
	var (
		trip models.Trip
		ok   bool
	)
	err := s.view(ctx, func(tx *store.Tx) error {
		var err error
		trip, ok, err = tx.Trip(caller)
		return err
	})
	return trip, ok, err
}

func (s *Service) BalanceOf(ctx context.Context, account models.Address) (uint64, error) {
	var bal uint64
	err := s.view(ctx, func(tx *store.Tx) error {
		var err error
		bal, err = tx.Balance(account)
		return err
	})
	return bal, err
}

// Events pages through the TripBooked log in emission order.
func (s *Service) Events(ctx context.Context, offset, limit int) ([]models.TripBooked, error) {
	var events []models.TripBooked
	err := s.view(ctx, func(tx *store.Tx) error {
		var err error
		events, err = tx.Events(offset, limit)
		return err
	})
	return events, err
}

// Number reads the legacy counter.
func (s *Service) Number(ctx context.Context) (uint64, error) {
	var n uint64
	err := s.view(ctx, func(tx *store.Tx) error {
		var err error
		n, err = tx.Number()
		return err
	})
	return n, err
}

func (s *Service) SetNumber(ctx context.Context, n uint64) error {
	_, err := s.update(ctx, func(tx *store.Tx) error {
		tx.SetNumber(n)
		return nil
	})
	return err
}

func (s *Service) Increment(ctx context.Context) error {
	_, err := s.update(ctx, func(tx *store.Tx) error {
		n, err := tx.Number()
		if err != nil {
			return err
		}
		return bumpNumber(tx, n, 1)
	})
	return err
}

func bumpNumber(tx *store.Tx, n, delta uint64) error {
	sum, carry := bits.Add64(n, delta, 0)
	if carry != 0 {
		return fmt.Errorf("%w: number %d + %d", ledger.ErrAmountOverflow, n, delta)
	}
	tx.SetNumber(sum)
	return nil
}
