package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"geocab/fixed"
	"geocab/logger"
	"geocab/models"
	"geocab/store"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

const (
	settingFee    = "fee"
	settingNumber = "number"
)

// Postgres is a store.Backend on the tables created by the migration
// package. 128-bit coordinates and uint64 amounts are kept in NUMERIC
// columns and read back as text.
type Postgres struct {
	db *sqlx.DB
}

// Connect opens and pings the database.
func Connect(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	logger.L().Info("database_connected")
	return New(db), nil
}

func New(db *sqlx.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) DB() *sqlx.DB {
	return p.db
}

type entryRow struct {
	Address string `db:"address"`
	Lat     string `db:"lat"`
	Lon     string `db:"lon"`
}

type eventRow struct {
	ID        uuid.UUID `db:"id"`
	Passenger string    `db:"passenger"`
	Driver    string    `db:"driver"`
	DestLat   string    `db:"dest_lat"`
	DestLon   string    `db:"dest_lon"`
	BookedAt  time.Time `db:"booked_at"`
}

func (p *Postgres) DriversAt(ctx context.Context, cell string) ([]models.DriverEntry, error) {
	var rows []entryRow
	query := `SELECT address, lat::TEXT AS lat, lon::TEXT AS lon
	          FROM driver_entries
	          WHERE cell = $1
	          ORDER BY id ASC`
	if err := p.db.SelectContext(ctx, &rows, query, cell); err != nil {
		return nil, fmt.Errorf("failed to get drivers in %s: %w", cell, err)
	}
	entries := make([]models.DriverEntry, 0, len(rows))
	for _, r := range rows {
		e, err := r.entry()
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (r entryRow) entry() (models.DriverEntry, error) {
	var (
		e   models.DriverEntry
		err error
	)
	if e.Address, err = models.ParseAddress(r.Address); err != nil {
		return e, err
	}
	if e.Lat, err = fixed.ParseInt128(r.Lat); err != nil {
		return e, err
	}
	if e.Lon, err = fixed.ParseInt128(r.Lon); err != nil {
		return e, err
	}
	return e, nil
}

func (p *Postgres) Cells(ctx context.Context) ([]string, error) {
	var cells []string
	if err := p.db.SelectContext(ctx, &cells, `SELECT DISTINCT cell FROM driver_entries ORDER BY cell`); err != nil {
		return nil, fmt.Errorf("failed to list cells: %w", err)
	}
	return cells, nil
}

func (p *Postgres) DriverCell(ctx context.Context, driver models.Address) (string, bool, error) {
	var cell string
	err := p.db.GetContext(ctx, &cell, `SELECT cell FROM driver_grid WHERE address = $1`, driver.Hex())
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get cell of %s: %w", driver, err)
	}
	return cell, true, nil
}

func (p *Postgres) Trip(ctx context.Context, passenger models.Address) (models.Trip, bool, error) {
	var row struct {
		Driver string `db:"driver"`
		Value  string `db:"value"`
	}
	err := p.db.GetContext(ctx, &row,
		`SELECT driver, value::TEXT AS value FROM trips WHERE passenger = $1`, passenger.Hex())
	if errors.Is(err, sql.ErrNoRows) {
		return models.Trip{}, false, nil
	}
	if err != nil {
		return models.Trip{}, false, fmt.Errorf("failed to get trip of %s: %w", passenger, err)
	}
	driver, err := models.ParseAddress(row.Driver)
	if err != nil {
		return models.Trip{}, false, err
	}
	value, err := strconv.ParseUint(row.Value, 10, 64)
	if err != nil {
		return models.Trip{}, false, err
	}
	return models.Trip{Passenger: passenger, Driver: driver, Value: value}, true, nil
}

func (p *Postgres) Balance(ctx context.Context, account models.Address) (uint64, error) {
	return p.uint(ctx, `SELECT amount::TEXT FROM balances WHERE account = $1`, account.Hex())
}

func (p *Postgres) Fee(ctx context.Context) (uint64, error) {
	return p.uint(ctx, `SELECT value::TEXT FROM settings WHERE name = $1`, settingFee)
}

func (p *Postgres) Number(ctx context.Context) (uint64, error) {
	return p.uint(ctx, `SELECT value::TEXT FROM settings WHERE name = $1`, settingNumber)
}

// uint reads a single NUMERIC column; no row is zero.
func (p *Postgres) uint(ctx context.Context, query string, args ...interface{}) (uint64, error) {
	var s string
	err := p.db.GetContext(ctx, &s, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(s, 10, 64)
}

func (p *Postgres) Events(ctx context.Context, offset, limit int) ([]models.TripBooked, error) {
	if offset < 0 {
		offset = 0
	}
	var lim interface{}
	if limit > 0 {
		lim = limit
	}
	var rows []eventRow
	query := `SELECT id, passenger, driver, dest_lat::TEXT AS dest_lat, dest_lon::TEXT AS dest_lon, booked_at
	          FROM trip_events
	          ORDER BY seq ASC
	          OFFSET $1 LIMIT $2`
	if err := p.db.SelectContext(ctx, &rows, query, offset, lim); err != nil {
		return nil, fmt.Errorf("failed to get trip events: %w", err)
	}
	events := make([]models.TripBooked, 0, len(rows))
	for _, r := range rows {
		e := models.TripBooked{ID: r.ID, BookedAt: r.BookedAt.UTC()}
		var err error
		if e.Passenger, err = models.ParseAddress(r.Passenger); err != nil {
			return nil, err
		}
		if e.Driver, err = models.ParseAddress(r.Driver); err != nil {
			return nil, err
		}
		if e.DestLat, err = fixed.ParseInt128(r.DestLat); err != nil {
			return nil, err
		}
		if e.DestLon, err = fixed.ParseInt128(r.DestLon); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}

// Apply writes the batch in one serializable transaction.
func (p *Postgres) Apply(ctx context.Context, b *store.Batch) error {
	tx, err := p.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, a := range b.Appends {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO driver_entries (cell, address, lat, lon) VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC)`,
			a.Cell, a.Entry.Address.Hex(), a.Entry.Lat.String(), a.Entry.Lon.String())
		if err != nil {
			return fmt.Errorf("failed to append driver entry: %w", err)
		}
	}
	for driver, cell := range b.Cells {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO driver_grid (address, cell) VALUES ($1, $2)
			 ON CONFLICT (address) DO UPDATE SET cell = EXCLUDED.cell`,
			driver.Hex(), cell)
		if err != nil {
			return fmt.Errorf("failed to set driver cell: %w", err)
		}
	}
	for passenger, trip := range b.Trips {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO trips (passenger, driver, value) VALUES ($1, $2, $3::NUMERIC)
			 ON CONFLICT (passenger) DO UPDATE SET driver = EXCLUDED.driver, value = EXCLUDED.value`,
			passenger.Hex(), trip.Driver.Hex(), strconv.FormatUint(trip.Value, 10))
		if err != nil {
			return fmt.Errorf("failed to put trip: %w", err)
		}
	}
	for account, amount := range b.Balances {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO balances (account, amount) VALUES ($1, $2::NUMERIC)
			 ON CONFLICT (account) DO UPDATE SET amount = EXCLUDED.amount`,
			account.Hex(), strconv.FormatUint(amount, 10))
		if err != nil {
			return fmt.Errorf("failed to set balance: %w", err)
		}
	}
	if b.Fee != nil {
		if err := setSetting(ctx, tx, settingFee, *b.Fee); err != nil {
			return err
		}
	}
	if b.Number != nil {
		if err := setSetting(ctx, tx, settingNumber, *b.Number); err != nil {
			return err
		}
	}
	for _, e := range b.Events {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO trip_events (id, passenger, driver, dest_lat, dest_lon, booked_at)
			 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6)`,
			e.ID, e.Passenger.Hex(), e.Driver.Hex(), e.DestLat.String(), e.DestLon.String(), e.BookedAt)
		if err != nil {
			return fmt.Errorf("failed to append trip event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func setSetting(ctx context.Context, tx *sqlx.Tx, name string, value uint64) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO settings (name, value) VALUES ($1, $2::NUMERIC)
		 ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value`,
		name, strconv.FormatUint(value, 10))
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", name, err)
	}
	return nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}
