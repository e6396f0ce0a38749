package geohash

import (
	"sort"
	"sync"

	"github.com/dhconnelly/rtreego"
	"github.com/mmcloughlin/geohash"
)

// cellBox wraps a cell to satisfy the rtreego.Spatial interface
type cellBox struct {
	cell string
	rect rtreego.Rect
}

// Bounds returns the cell's bounding box as (lat, lon) intervals
func (c *cellBox) Bounds() rtreego.Rect {
	return c.rect
}

// CellTree is an R-tree over the bounding boxes of occupied cells.
type CellTree struct {
	mu    sync.Mutex
	tree  *rtreego.Rtree
	cells map[string]struct{}
}

// NewCellTree initializes an empty R-tree for spatial indexing
func NewCellTree() *CellTree {
	return &CellTree{
		tree:  rtreego.NewTree(2, 25, 50),
		cells: make(map[string]struct{}),
	}
}

// Insert adds a cell; inserting a known cell is a no-op.
func (t *CellTree) Insert(cell string) error {
	if err := Validate(cell); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.cells[cell]; ok {
		return nil
	}
	box := geohash.BoundingBox(cell)
	rect, err := rtreego.NewRectFromPoints(
		rtreego.Point{box.MinLat, box.MinLng},
		rtreego.Point{box.MaxLat, box.MaxLng},
	)
	if err != nil {
		return err
	}
	t.tree.Insert(&cellBox{cell: cell, rect: rect})
	t.cells[cell] = struct{}{}
	return nil
}

// SearchNearby returns occupied cells whose boxes intersect the square of
// half-width radius (degrees) around the point, sorted.
func (t *CellTree) SearchNearby(lat, lon, radius float64) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	point := rtreego.Point{lat, lon}
	found := t.tree.SearchIntersect(point.ToRect(radius))
	cells := make([]string, 0, len(found))
	for _, s := range found {
		cells = append(cells, s.(*cellBox).cell)
	}
	sort.Strings(cells)
	return cells
}

// Len is the number of indexed cells.
func (t *CellTree) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.cells)
}
