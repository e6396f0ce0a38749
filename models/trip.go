package models

import (
	"time"

	"geocab/fixed"

	"github.com/google/uuid"
)

// Trip is the active trip record of a passenger.
type Trip struct {
	Passenger Address `json:"passenger"`
	Driver    Address `json:"driver"`
	Value     uint64  `json:"value"`
}

// TripBooked is emitted once per successful booking.
type TripBooked struct {
	ID        uuid.UUID    `json:"id"`
	Passenger Address      `json:"passenger"`
	Driver    Address      `json:"driver"`
	DestLat   fixed.Int128 `json:"dest_lat"`
	DestLon   fixed.Int128 `json:"dest_lon"`
	BookedAt  time.Time    `json:"booked_at"`
}

// Coordinates is a raw (lat, lon) input pair.
type Coordinates struct {
	Lat fixed.Int128 `json:"lat"`
	Lon fixed.Int128 `json:"lon"`
}
