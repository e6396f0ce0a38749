package models

import "geocab/fixed"

// Location is a fixed-point latitude/longitude pair.
type Location struct {
	Lat fixed.I64F64 `json:"lat"`
	Lon fixed.I64F64 `json:"lon"`
}

// DistanceIndication is the Manhattan distance between two locations. It is
// only a proximity proxy for points a few cells apart.
func (l Location) DistanceIndication(other Location) fixed.I64F64 {
	return l.Lat.Sub(other.Lat).Abs().Add(l.Lon.Sub(other.Lon).Abs())
}

// DriverEntry is one published driver position. Lat and Lon keep the raw
// inputs exactly as published.
type DriverEntry struct {
	Address Address      `json:"address"`
	Lat     fixed.Int128 `json:"lat"`
	Lon     fixed.Int128 `json:"lon"`
}
