package matching

import (
	"errors"
	"fmt"

	"geocab/codec"
	"geocab/fixed"
	"geocab/geohash"
	"geocab/models"
)

var ErrNoDriversAvailable = errors.New("no available drivers nearby")

// Index is the read side of the cell buckets.
type Index interface {
	DriversAt(cell string) ([]models.DriverEntry, error)
}

// Match is the outcome of a nearest-driver search.
type Match struct {
	Driver     models.DriverEntry
	Distance   fixed.I64F64
	Candidates int
}

// Matcher picks the nearest published driver around a location.
type Matcher struct {
	precision uint
}

func NewMatcher(precision uint) *Matcher {
	return &Matcher{precision: precision}
}

func (m *Matcher) Precision() uint {
	return m.precision
}

// Candidates returns the home cell's bucket followed by the buckets of its
// eight neighbors in compass order, each in insertion order. A neighbor
// already visited (only possible at the poles) is not read twice.
func (m *Matcher) Candidates(idx Index, loc models.Location) ([]models.DriverEntry, error) {
	home, err := geohash.Encode(loc, m.precision)
	if err != nil {
		return nil, err
	}
	neighbors, err := geohash.GetNeighbors(home)
	if err != nil {
		return nil, err
	}

	visited := map[string]bool{}
	var candidates []models.DriverEntry
	for _, cell := range append([]string{home}, neighbors...) {
		if visited[cell] {
			continue
		}
		visited[cell] = true
		drivers, err := idx.DriversAt(cell)
		if err != nil {
			return nil, fmt.Errorf("read cell %s: %w", cell, err)
		}
		candidates = append(candidates, drivers...)
	}
	return candidates, nil
}

// FindNearestDriver returns the candidate with the smallest Manhattan
// distance to loc. Ties go to the earliest candidate.
func (m *Matcher) FindNearestDriver(idx Index, loc models.Location) (Match, error) {
	candidates, err := m.Candidates(idx, loc)
	if err != nil {
		return Match{}, err
	}
	driver, distance, ok := Closest(candidates, loc)
	if !ok {
		return Match{}, ErrNoDriversAvailable
	}
	return Match{Driver: driver, Distance: distance, Candidates: len(candidates)}, nil
}

// Closest is a stable argmin over candidates; ok is false when there are
// none.
func Closest(candidates []models.DriverEntry, loc models.Location) (models.DriverEntry, fixed.I64F64, bool) {
	if len(candidates) == 0 {
		return models.DriverEntry{}, fixed.I64F64{}, false
	}
	best := candidates[0]
	bestDist := codec.EntryLocation(best).DistanceIndication(loc)
	for _, c := range candidates[1:] {
		d := codec.EntryLocation(c).DistanceIndication(loc)
		if d.Less(bestDist) {
			best, bestDist = c, d
		}
	}
	return best, bestDist, true
}
