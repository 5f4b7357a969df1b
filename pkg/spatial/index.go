// Package spatial provides the neighborhood index over the observation
// coordinates of one batch.
package spatial

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/kdtree"
)

// Point2D is a projected coordinate tagged with the position of its
// observation in the batch
type Point2D struct {
	X, Y  float64
	Index int
}

// Compare implements the kdtree.Comparable interface
func (p Point2D) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(Point2D)
	switch d {
	case 0:
		return p.X - q.X
	case 1:
		return p.Y - q.Y
	default:
		panic("illegal dimension")
	}
}

// Dims returns the number of dimensions for the KD-tree
func (p Point2D) Dims() int { return 2 }

// Distance returns the squared Euclidean distance between two points
func (p Point2D) Distance(c kdtree.Comparable) float64 {
	q := c.(Point2D)
	dx := p.X - q.X
	dy := p.Y - q.Y
	return dx*dx + dy*dy
}

// Points2D is a collection of Point2D that satisfies kdtree.Interface
type Points2D []Point2D

func (p Points2D) Index(i int) kdtree.Comparable         { return p[i] }
func (p Points2D) Len() int                              { return len(p) }
func (p Points2D) Slice(start, end int) kdtree.Interface { return p[start:end] }

// Pivot implements the kdtree.Interface method
func (p Points2D) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(pointPlane{Points2D: p, Dim: d}, kdtree.MedianOfRandoms(pointPlane{Points2D: p, Dim: d}, 100))
}

// pointPlane implements sort.Interface and kdtree.SortSlicer for Points2D
type pointPlane struct {
	Points2D
	kdtree.Dim
}

func (p pointPlane) Less(i, j int) bool {
	switch p.Dim {
	case 0:
		return p.Points2D[i].X < p.Points2D[j].X
	case 1:
		return p.Points2D[i].Y < p.Points2D[j].Y
	default:
		panic("illegal dimension")
	}
}

func (p pointPlane) Slice(start, end int) kdtree.SortSlicer {
	return pointPlane{Points2D: p.Points2D[start:end], Dim: p.Dim}
}

func (p pointPlane) Swap(i, j int) {
	p.Points2D[i], p.Points2D[j] = p.Points2D[j], p.Points2D[i]
}

// Index answers radius queries over a fixed point set. It is built once per
// batch and is safe for concurrent queries.
type Index struct {
	tree *kdtree.Tree
	n    int
}

// NewIndex builds the KD-tree over the given coordinates. Points with a
// non-finite coordinate are left out; positions still refer to the input.
func NewIndex(x, y []float64) *Index {
	points := make(Points2D, 0, len(x))
	for i := range x {
		if !Finite(x[i], y[i]) {
			continue
		}
		points = append(points, Point2D{X: x[i], Y: y[i], Index: i})
	}
	idx := &Index{n: len(points)}
	if len(points) > 0 {
		idx.tree = kdtree.New(points, true)
	}
	return idx
}

// Finite reports whether both coordinates are usable
func Finite(x, y float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0) && !math.IsNaN(y) && !math.IsInf(y, 0)
}

// Len returns the number of indexed points
func (ix *Index) Len() int { return ix.n }

// Radius returns the batch positions of all points within radius of
// (x, y), sorted ascending. An empty result is valid.
func (ix *Index) Radius(x, y, radius float64) []int {
	if ix.tree == nil || radius < 0 || math.IsNaN(radius) {
		return nil
	}

	// The tree compares squared distances
	keeper := kdtree.NewDistKeeper(radius * radius)
	ix.tree.NearestSet(keeper, Point2D{X: x, Y: y})

	out := make([]int, 0, keeper.Len())
	for _, item := range keeper.Heap {
		// Skip the sentinel value
		if item.Comparable == nil {
			continue
		}
		out = append(out, item.Comparable.(Point2D).Index)
	}
	sort.Ints(out)
	return out
}
