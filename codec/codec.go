// Package codec converts raw 128-bit coordinate inputs into fixed-point
// locations. The conversion reinterprets the big-endian byte pattern of the
// integer as a 64.64 fixed-point number; it never rescales.
package codec

import (
	"geocab/fixed"
	"geocab/models"
)

// ToFixed reinterprets x as a 64.64 fixed-point value.
func ToFixed(x fixed.Int128) fixed.I64F64 {
	return fixed.FromBytes(x.Bytes())
}

// FromFixed is the inverse of ToFixed.
func FromFixed(f fixed.I64F64) fixed.Int128 {
	return fixed.Int128FromBytes(f.Bytes())
}

// Encode converts a raw (lat, lon) pair.
func Encode(rawLat, rawLon fixed.Int128) models.Location {
	return models.Location{Lat: ToFixed(rawLat), Lon: ToFixed(rawLon)}
}

// Decode returns the raw pair a location was encoded from.
func Decode(loc models.Location) (fixed.Int128, fixed.Int128) {
	return FromFixed(loc.Lat), FromFixed(loc.Lon)
}

// EncodeCoordinates is Encode for a Coordinates value.
func EncodeCoordinates(c models.Coordinates) models.Location {
	return Encode(c.Lat, c.Lon)
}

// EntryLocation derives the comparable location of a stored driver entry.
func EntryLocation(e models.DriverEntry) models.Location {
	return Encode(e.Lat, e.Lon)
}
