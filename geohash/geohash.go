package geohash

import (
	"errors"
	"fmt"

	"geocab/fixed"
	"geocab/models"

	"github.com/mmcloughlin/geohash"
)

// MaxPrecision is the longest cell that fits the 64-bit integer form.
const MaxPrecision = 12

var (
	ErrInvalidGeohash    = errors.New("invalid geohash")
	ErrInvalidCoordinate = errors.New("coordinate out of range")
)

var (
	latMin = fixed.FromInt(-90)
	latMax = fixed.FromInt(90)
	lonMin = fixed.FromInt(-180)
	lonMax = fixed.FromInt(180)
)

// Encode coordinates into a geohash with specified precision.
//
// Bisection runs in fixed-point arithmetic and a bit is set only when the
// coordinate lies strictly above the midpoint, so points on a cell edge
// belong to the south/west cell.
func Encode(loc models.Location, precision uint) (string, error) {
	if precision == 0 || precision > MaxPrecision {
		return "", fmt.Errorf("unsupported geohash precision %d", precision)
	}
	if loc.Lat.Cmp(latMin) < 0 || loc.Lat.Cmp(latMax) > 0 {
		return "", fmt.Errorf("%w: latitude %s", ErrInvalidCoordinate, loc.Lat)
	}
	if loc.Lon.Cmp(lonMin) < 0 || loc.Lon.Cmp(lonMax) > 0 {
		return "", fmt.Errorf("%w: longitude %s", ErrInvalidCoordinate, loc.Lon)
	}

	latLo, latHi := latMin, latMax
	lonLo, lonHi := lonMin, lonMax
	var hash uint64
	for i := uint(0); i < 5*precision; i++ {
		hash <<= 1
		if i%2 == 0 {
			mid := lonLo.Add(lonHi).Half()
			if loc.Lon.Cmp(mid) > 0 {
				hash |= 1
				lonLo = mid
			} else {
				lonHi = mid
			}
		} else {
			mid := latLo.Add(latHi).Half()
			if loc.Lat.Cmp(mid) > 0 {
				hash |= 1
				latLo = mid
			} else {
				latHi = mid
			}
		}
	}
	return geohash.ConvertIntToString(hash, precision), nil
}

// Validate reports ErrInvalidGeohash for empty, overlong or non-base32 cells.
func Validate(cell string) error {
	if cell == "" || len(cell) > MaxPrecision {
		return fmt.Errorf("%w: %q", ErrInvalidGeohash, cell)
	}
	if err := geohash.Validate(cell); err != nil {
		return fmt.Errorf("%w: %q: %w", ErrInvalidGeohash, cell, err)
	}
	return nil
}

// compass offsets as (dlat, dlon) in N, NE, E, SE, S, SW, W, NW order
var compass = [8][2]int64{
	{1, 0}, {1, 1}, {0, 1}, {-1, 1},
	{-1, 0}, {-1, -1}, {0, -1}, {1, -1},
}

// GetNeighbors returns the geohashes of neighboring cells in N, NE, E, SE,
// S, SW, W, NW order. Longitude wraps at the antimeridian; latitude clamps
// at the poles, so a polar cell can list itself.
func GetNeighbors(cell string) ([]string, error) {
	if err := Validate(cell); err != nil {
		return nil, err
	}
	chars := uint(len(cell))
	hash, nbits := geohash.ConvertStringToInt(cell)
	latBits := nbits / 2
	lonBits := nbits - latBits

	lat, lon := deinterleave(hash, nbits)
	latTop := int64(1)<<latBits - 1
	lonMod := int64(1) << lonBits

	neighbors := make([]string, 0, len(compass))
	for _, d := range compass {
		nlat := int64(lat) + d[0]
		if nlat < 0 {
			nlat = 0
		} else if nlat > latTop {
			nlat = latTop
		}
		nlon := (int64(lon) + d[1] + lonMod) % lonMod
		nh := interleave(uint64(nlat), uint64(nlon), nbits)
		neighbors = append(neighbors, geohash.ConvertIntToString(nh, chars))
	}
	return neighbors, nil
}

// deinterleave splits hash bits into row (lat) and column (lon) indices.
// The most significant bit is a longitude bit.
func deinterleave(hash uint64, nbits uint) (lat, lon uint64) {
	for i := uint(0); i < nbits; i++ {
		b := (hash >> (nbits - 1 - i)) & 1
		if i%2 == 0 {
			lon = lon<<1 | b
		} else {
			lat = lat<<1 | b
		}
	}
	return lat, lon
}

func interleave(lat, lon uint64, nbits uint) uint64 {
	latBits := nbits / 2
	lonBits := nbits - latBits
	var hash uint64
	for i := uint(0); i < nbits; i++ {
		hash <<= 1
		if i%2 == 0 {
			lonBits--
			hash |= (lon >> lonBits) & 1
		} else {
			latBits--
			hash |= (lat >> latBits) & 1
		}
	}
	return hash
}
