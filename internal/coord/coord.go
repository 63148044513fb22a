// Package coord prepares sparse-write coordinate buffers: splitting a
// caller's zipped coordinate buffer into per-dimension slices, bounds
// checking, sorting into the write's cell order (row/col-major or
// Hilbert), detecting duplicates, and checking that already-ordered data
// submitted in global order really is ordered.
package coord

import (
	"encoding/binary"
	"math"
	"sort"

	werrors "github.com/devrev/arraydb/writer-node/internal/errors"
	"github.com/devrev/arraydb/writer-node/internal/hilbert"
	"github.com/devrev/arraydb/writer-node/internal/schema"
)

// Set holds one coordinate value per dimension per cell, keyed by
// dimension name, after splitting and decoding.
type Set struct {
	Dims     []schema.Dimension
	Values   map[string][]float64 // Values[dim][i] is cell i's coordinate on dim
	NumCells int
}

// DecodeDim decodes a fixed-width coordinate buffer into float64s.
func DecodeDim(buf []byte, t schema.CellType) ([]float64, error) {
	sz := t.ByteSize()
	if sz == 0 {
		return nil, werrors.InvalidArgument("unsupported dimension cell type")
	}
	if len(buf)%sz != 0 {
		return nil, werrors.Shape("coordinate buffer size is not a multiple of the dimension's cell size")
	}
	n := len(buf) / sz
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		chunk := buf[i*sz : (i+1)*sz]
		switch t {
		case schema.Int32:
			out[i] = float64(int32(binary.LittleEndian.Uint32(chunk)))
		case schema.Int64:
			out[i] = float64(int64(binary.LittleEndian.Uint64(chunk)))
		case schema.Float32:
			out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(chunk)))
		case schema.Float64:
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(chunk))
		case schema.UInt8:
			out[i] = float64(chunk[0])
		default:
			return nil, werrors.InvalidArgument("unsupported dimension cell type")
		}
	}
	return out, nil
}

// SplitZipped splits a single interleaved (d0,d1,...,dn,d0,d1,...) buffer,
// one fixed-width cell per dimension in schema order, into per-dimension
// slices. This mirrors split_coords_buffer in the original writer, which
// exists for backward-compatible callers that bind one combined "coords"
// buffer instead of one buffer per dimension.
func SplitZipped(zipped []byte, dims []schema.Dimension) (*Set, error) {
	cellSize := 0
	for _, d := range dims {
		cellSize += d.Type.ByteSize()
	}
	if cellSize == 0 || len(zipped)%cellSize != 0 {
		return nil, werrors.Shape("zipped coordinate buffer size is not a multiple of the combined cell size")
	}
	n := len(zipped) / cellSize
	values := make(map[string][]float64, len(dims))
	for _, d := range dims {
		values[d.Name] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		off := i * cellSize
		for _, d := range dims {
			sz := d.Type.ByteSize()
			chunk := zipped[off : off+sz]
			off += sz
			v, err := decodeScalar(chunk, d.Type)
			if err != nil {
				return nil, err
			}
			values[d.Name][i] = v
		}
	}
	return &Set{Dims: dims, Values: values, NumCells: n}, nil
}

// FromPerDimension builds a Set from already-split per-dimension buffers.
func FromPerDimension(buffers map[string][]byte, dims []schema.Dimension) (*Set, error) {
	values := make(map[string][]float64, len(dims))
	n := -1
	for _, d := range dims {
		buf, ok := buffers[d.Name]
		if !ok {
			return nil, werrors.InvalidArgument("missing coordinate buffer for dimension " + d.Name)
		}
		decoded, err := DecodeDim(buf, d.Type)
		if err != nil {
			return nil, err
		}
		if n == -1 {
			n = len(decoded)
		} else if len(decoded) != n {
			return nil, werrors.Shape("dimension coordinate buffers have mismatched cell counts")
		}
		values[d.Name] = decoded
	}
	return &Set{Dims: dims, Values: values, NumCells: n}, nil
}

func decodeScalar(chunk []byte, t schema.CellType) (float64, error) {
	switch t {
	case schema.Int32:
		return float64(int32(binary.LittleEndian.Uint32(chunk))), nil
	case schema.Int64:
		return float64(int64(binary.LittleEndian.Uint64(chunk))), nil
	case schema.Float32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(chunk))), nil
	case schema.Float64:
		return math.Float64frombits(binary.LittleEndian.Uint64(chunk)), nil
	case schema.UInt8:
		return float64(chunk[0]), nil
	default:
		return 0, werrors.InvalidArgument("unsupported dimension cell type")
	}
}

// CheckOOB verifies every cell's coordinate falls within its dimension's
// domain, matching check_coord_oob. It reports the first offending cell.
func (s *Set) CheckOOB() error {
	for _, d := range s.Dims {
		vals := s.Values[d.Name]
		for i, v := range vals {
			if v < d.Domain[0] || v > d.Domain[1] {
				return werrors.OutOfBounds("coordinate out of domain bounds").
					WithDetail("dimension", d.Name).
					WithDetail("cell", i).
					WithDetail("value", v).
					WithDetail("domain", d.Domain)
			}
		}
	}
	return nil
}

// OptimizeLayoutFor1D mirrors optimize_layout_for_1D: with a single
// dimension, row-major and col-major sorts are identical, so either may be
// treated as the canonical RowMajor without changing write semantics.
func OptimizeLayoutFor1D(dims []schema.Dimension, order schema.Layout) schema.Layout {
	if len(dims) == 1 && (order == schema.RowMajor || order == schema.ColMajor) {
		return schema.RowMajor
	}
	return order
}

// SortPermutation returns the permutation of cell indices, stable, that
// places the Set's cells into the requested global order.
func (s *Set) SortPermutation(order schema.Layout) []int {
	order = OptimizeLayoutFor1D(s.Dims, order)
	perm := make([]int, s.NumCells)
	for i := range perm {
		perm[i] = i
	}

	switch order {
	case schema.Hilbert:
		keys := make([]uint64, s.NumCells)
		for i := 0; i < s.NumCells; i++ {
			point := make([]uint64, len(s.Dims))
			for di, d := range s.Dims {
				point[di] = normalizeToUint(s.Values[d.Name][i], d.Domain)
			}
			keys[i] = hilbert.Encode(point)
		}
		sort.SliceStable(perm, func(a, b int) bool {
			ia, ib := perm[a], perm[b]
			if keys[ia] != keys[ib] {
				return keys[ia] < keys[ib]
			}
			return ia < ib
		})
	case schema.ColMajor:
		sort.SliceStable(perm, func(a, b int) bool {
			return s.lessMajor(perm[a], perm[b], true)
		})
	default: // RowMajor, Unordered treated as row-major for sort purposes
		sort.SliceStable(perm, func(a, b int) bool {
			return s.lessMajor(perm[a], perm[b], false)
		})
	}
	return perm
}

func (s *Set) lessMajor(i, j int, reverse bool) bool {
	dims := s.Dims
	if reverse {
		for k := len(dims) - 1; k >= 0; k-- {
			vi, vj := s.Values[dims[k].Name][i], s.Values[dims[k].Name][j]
			if vi != vj {
				return vi < vj
			}
		}
	} else {
		for _, d := range dims {
			vi, vj := s.Values[d.Name][i], s.Values[d.Name][j]
			if vi != vj {
				return vi < vj
			}
		}
	}
	return i < j
}

func normalizeToUint(v float64, domain [2]float64) uint64 {
	span := domain[1] - domain[0]
	if span <= 0 {
		return 0
	}
	frac := (v - domain[0]) / span
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	return uint64(frac * float64((uint64(1)<<hilbert.Order)-1))
}

// Equal reports whether two cells have identical coordinates on every
// dimension.
func (s *Set) Equal(i, j int) bool {
	for _, d := range s.Dims {
		if s.Values[d.Name][i] != s.Values[d.Name][j] {
			return false
		}
	}
	return true
}

// CheckGlobalOrder verifies that, in submitted order, the cells are non-decreasing
// in the requested global order — used when the caller claims data is
// already in global order (global_write mode) so it need not be re-sorted.
// Mirrors check_global_order / check_global_order_hilbert.
func (s *Set) CheckGlobalOrder(order schema.Layout) error {
	order = OptimizeLayoutFor1D(s.Dims, order)
	if order == schema.Hilbert {
		var prevKey uint64
		have := false
		for i := 0; i < s.NumCells; i++ {
			point := make([]uint64, len(s.Dims))
			for di, d := range s.Dims {
				point[di] = normalizeToUint(s.Values[d.Name][i], d.Domain)
			}
			k := hilbert.Encode(point)
			if have && k < prevKey {
				return werrors.OutOfOrder("cells are not in Hilbert global order").WithDetail("cell", i)
			}
			prevKey, have = k, true
		}
		return nil
	}
	reverse := order == schema.ColMajor
	for i := 1; i < s.NumCells; i++ {
		if s.lessMajor(i, i-1, reverse) {
			return werrors.OutOfOrder("cells are not in global order").WithDetail("cell", i)
		}
	}
	return nil
}

// ComputeDups returns, for cells visited in perm order, the indices (into
// perm) of cells that duplicate their immediate predecessor's coordinate.
// Mirrors compute_coord_dups.
func (s *Set) ComputeDups(perm []int) []int {
	var dups []int
	for i := 1; i < len(perm); i++ {
		if s.Equal(perm[i], perm[i-1]) {
			dups = append(dups, i)
		}
	}
	return dups
}

// ComputeDupsAcrossBoundary is ComputeDups but additionally compares
// perm[0] against a carried-over last coordinate from a previous write()
// call in the same global write, resolving the cross-submission duplicate
// detection design decision recorded in DESIGN.md.
func (s *Set) ComputeDupsAcrossBoundary(perm []int, prevLast map[string]float64) []int {
	dups := s.ComputeDups(perm)
	if len(perm) == 0 || prevLast == nil {
		return dups
	}
	first := perm[0]
	match := true
	for _, d := range s.Dims {
		if s.Values[d.Name][first] != prevLast[d.Name] {
			match = false
			break
		}
	}
	if match {
		dups = append([]int{0}, dups...)
	}
	return dups
}

// Dedup applies perm with the cells named by dupIdx (indices into perm)
// removed, keeping first-occurrence semantics.
func Dedup(perm []int, dupIdx []int) []int {
	if len(dupIdx) == 0 {
		return perm
	}
	skip := make(map[int]bool, len(dupIdx))
	for _, i := range dupIdx {
		skip[i] = true
	}
	out := make([]int, 0, len(perm))
	for i, v := range perm {
		if skip[i] {
			continue
		}
		out = append(out, v)
	}
	return out
}

// Last returns the coordinate of the last cell in perm order, for carrying
// across a global write's submission boundary.
func (s *Set) Last(perm []int) map[string]float64 {
	if len(perm) == 0 {
		return nil
	}
	last := perm[len(perm)-1]
	out := make(map[string]float64, len(s.Dims))
	for _, d := range s.Dims {
		out[d.Name] = s.Values[d.Name][last]
	}
	return out
}
