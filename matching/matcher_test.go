package matching

import (
	"errors"
	"testing"

	"geocab/codec"
	"geocab/fixed"
	"geocab/geohash"
	"geocab/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapIndex map[string][]models.DriverEntry

func (m mapIndex) DriversAt(cell string) ([]models.DriverEntry, error) {
	return m[cell], nil
}

type failingIndex struct{}

func (failingIndex) DriversAt(string) ([]models.DriverEntry, error) {
	return nil, errors.New("backend down")
}

var (
	d1 = models.MustParseAddress("0x1111111111111111111111111111111111111111")
	d2 = models.MustParseAddress("0x2222222222222222222222222222222222222222")
	d3 = models.MustParseAddress("0x3333333333333333333333333333333333333333")
)

func raw(t *testing.T, s string) fixed.Int128 {
	t.Helper()
	f, err := fixed.Parse(s)
	require.NoError(t, err)
	return codec.FromFixed(f)
}

func at(t *testing.T, a models.Address, lat, lon string) models.DriverEntry {
	return models.DriverEntry{Address: a, Lat: raw(t, lat), Lon: raw(t, lon)}
}

func place(t *testing.T, idx mapIndex, e models.DriverEntry) {
	cell, err := geohash.Encode(codec.EntryLocation(e), 5)
	require.NoError(t, err)
	idx[cell] = append(idx[cell], e)
}

func passenger(t *testing.T, lat, lon string) models.Location {
	return codec.Encode(raw(t, lat), raw(t, lon))
}

func TestFindNearestSameCell(t *testing.T) {
	idx := mapIndex{}
	place(t, idx, at(t, d1, "51.0", "0.0"))

	m, err := NewMatcher(5).FindNearestDriver(idx, passenger(t, "51.0", "0.0"))
	require.NoError(t, err)
	assert.Equal(t, d1, m.Driver.Address)
	assert.Equal(t, fixed.I64F64{}, m.Distance)
	assert.Equal(t, 1, m.Candidates)
}

func TestFindNearestPicksSmallestDistance(t *testing.T) {
	idx := mapIndex{}
	place(t, idx, at(t, d1, "51.02", "-0.03")) // gcpfp, farther
	place(t, idx, at(t, d2, "51.01", "0.01"))  // u1040, east neighbor, closer

	m, err := NewMatcher(5).FindNearestDriver(idx, passenger(t, "51.0", "0.0"))
	require.NoError(t, err)
	assert.Equal(t, d2, m.Driver.Address)
	assert.True(t, m.Distance.Less(fixed.FromBits(0, 1<<62)))
	assert.Equal(t, 2, m.Candidates)
}

func TestFindNearestTieGoesToFirstPublished(t *testing.T) {
	idx := mapIndex{}
	place(t, idx, at(t, d1, "51.01", "0.0"))
	place(t, idx, at(t, d2, "51.0", "-0.01"))
	place(t, idx, at(t, d3, "50.99", "0.0"))

	m, err := NewMatcher(5).FindNearestDriver(idx, passenger(t, "51.0", "0.0"))
	require.NoError(t, err)
	assert.Equal(t, d1, m.Driver.Address)
}

func TestFindNearestHomeCellBeforeNeighbors(t *testing.T) {
	// equal distance, the east-neighbor entry is inserted first but the home
	// cell is scanned first
	idx := mapIndex{}
	place(t, idx, at(t, d2, "51.0", "0.01"))
	place(t, idx, at(t, d1, "51.0", "-0.01"))

	m, err := NewMatcher(5).FindNearestDriver(idx, passenger(t, "51.0", "0.0"))
	require.NoError(t, err)
	assert.Equal(t, d1, m.Driver.Address)
}

func TestFindNearestIgnoresCellsOutsideNeighborhood(t *testing.T) {
	idx := mapIndex{}
	place(t, idx, at(t, d1, "52.0", "0.0"))

	_, err := NewMatcher(5).FindNearestDriver(idx, passenger(t, "51.0", "0.0"))
	assert.True(t, errors.Is(err, ErrNoDriversAvailable))
}

func TestFindNearestDeterministic(t *testing.T) {
	idx := mapIndex{}
	place(t, idx, at(t, d1, "51.001", "0.002"))
	place(t, idx, at(t, d2, "50.999", "-0.002"))
	place(t, idx, at(t, d3, "51.0", "0.003"))

	m := NewMatcher(5)
	first, err := m.FindNearestDriver(idx, passenger(t, "51.0", "0.0"))
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := m.FindNearestDriver(idx, passenger(t, "51.0", "0.0"))
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestCandidatesOrder(t *testing.T) {
	idx := mapIndex{
		"gcpfq": {{Address: d3}},
		"gcpfp": {{Address: d1}, {Address: d1}},
		"gcpfr": {{Address: d2}},
	}
	got, err := NewMatcher(5).Candidates(idx, passenger(t, "51.0", "0.0"))
	require.NoError(t, err)
	addrs := make([]models.Address, 0, len(got))
	for _, c := range got {
		addrs = append(addrs, c.Address)
	}
	assert.Equal(t, []models.Address{d1, d1, d2, d3}, addrs)
}

func TestCandidatesTopRowReadsEachCellOnce(t *testing.T) {
	idx := mapIndex{}
	place(t, idx, at(t, d1, "90.0", "0.0"))   // gzzzz
	place(t, idx, at(t, d2, "90.0", "0.02"))  // east, also the clamped NE
	place(t, idx, at(t, d3, "90.0", "-0.06")) // west, also the clamped NW
	require.Len(t, idx, 3)

	got, err := NewMatcher(5).Candidates(idx, passenger(t, "90.0", "0.0"))
	require.NoError(t, err)
	addrs := make([]models.Address, 0, len(got))
	for _, c := range got {
		addrs = append(addrs, c.Address)
	}
	assert.Equal(t, []models.Address{d1, d2, d3}, addrs)

	m, err := NewMatcher(5).FindNearestDriver(idx, passenger(t, "90.0", "0.0"))
	require.NoError(t, err)
	assert.Equal(t, d1, m.Driver.Address)
	assert.Equal(t, 3, m.Candidates)
}

func TestCandidatesErrors(t *testing.T) {
	_, err := NewMatcher(5).Candidates(failingIndex{}, passenger(t, "51.0", "0.0"))
	assert.Error(t, err)

	_, err = NewMatcher(5).Candidates(mapIndex{}, passenger(t, "95.0", "0.0"))
	assert.True(t, errors.Is(err, geohash.ErrInvalidCoordinate))
}

func TestClosestEmpty(t *testing.T) {
	_, _, ok := Closest(nil, models.Location{})
	assert.False(t, ok)
}
