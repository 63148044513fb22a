// Package schema models the read-only array schema the Writer consumes:
// dimensions, attributes, domain bounds, global cell order and tile shape.
// Schema construction lives here only so tests and the demo command have a
// way to build one; the Writer never mutates a schema after it is set.
package schema

import "fmt"

// CellType is the scalar type of a dimension or attribute value.
type CellType int

const (
	Int32 CellType = iota
	Int64
	Float32
	Float64
	UInt8
)

// ByteSize returns the fixed width of one scalar value of t.
func (t CellType) ByteSize() int {
	switch t {
	case Int32, Float32:
		return 4
	case Int64, Float64:
		return 8
	case UInt8:
		return 1
	default:
		return 0
	}
}

// Layout is the cell order a write or a schema's default order uses.
type Layout int

const (
	RowMajor Layout = iota
	ColMajor
	GlobalOrder
	Unordered
	Hilbert
)

func (l Layout) String() string {
	switch l {
	case RowMajor:
		return "row-major"
	case ColMajor:
		return "col-major"
	case GlobalOrder:
		return "global-order"
	case Unordered:
		return "unordered"
	case Hilbert:
		return "hilbert"
	default:
		return "unknown"
	}
}

// Dimension is one axis of the array's domain.
type Dimension struct {
	Name       string
	Type       CellType
	Domain     [2]float64 // [lo, hi], inclusive
	TileExtent float64    // dense tile extent along this dimension
}

// Attribute is a named, typed value column.
type Attribute struct {
	Name       string
	Type       CellType
	Nullable   bool
	VarLength  bool
	FillValue  []byte // used to pad dense tiles with no written cell
	FilterList []string
}

// Schema is the read-only array schema.
type Schema struct {
	Name         string
	Version      uint32
	Dense        bool
	Dimensions   []Dimension
	Attributes   []Attribute
	CellOrder    Layout // RowMajor, ColMajor or Hilbert
	TileCapacity uint64 // cells per tile, sparse arrays only
}

// DimIndex returns the position of dim in the schema's dimension list, or
// -1 if it is not a dimension name.
func (s *Schema) DimIndex(name string) int {
	for i, d := range s.Dimensions {
		if d.Name == name {
			return i
		}
	}
	return -1
}

// AttrIndex returns the position of attr in the schema's attribute list, or
// -1 if it is not an attribute name.
func (s *Schema) AttrIndex(name string) int {
	for i, a := range s.Attributes {
		if a.Name == name {
			return i
		}
	}
	return -1
}

// IsField reports whether name is either a dimension or an attribute.
func (s *Schema) IsField(name string) bool {
	return s.DimIndex(name) >= 0 || s.AttrIndex(name) >= 0
}

// Attr looks up an attribute by name.
func (s *Schema) Attr(name string) (Attribute, bool) {
	if i := s.AttrIndex(name); i >= 0 {
		return s.Attributes[i], true
	}
	return Attribute{}, false
}

// Dim looks up a dimension by name.
func (s *Schema) Dim(name string) (Dimension, bool) {
	if i := s.DimIndex(name); i >= 0 {
		return s.Dimensions[i], true
	}
	return Dimension{}, false
}

// NDim returns the number of dimensions.
func (s *Schema) NDim() int {
	return len(s.Dimensions)
}

// Subarray is an N-dimensional rectangular range over a dense schema's
// domain, one [lo, hi] pair per dimension in schema order. Mirrors
// set_subarray/add_range in the original writer: a dense write with no
// Subarray bound covers the schema's whole domain.
type Subarray struct {
	Ranges [][2]float64
}

// NewSubarray returns a Subarray initialized to sch's whole domain, ready
// to be narrowed dimension-by-dimension with SetRange.
func NewSubarray(sch *Schema) Subarray {
	ranges := make([][2]float64, len(sch.Dimensions))
	for i, d := range sch.Dimensions {
		ranges[i] = d.Domain
	}
	return Subarray{Ranges: ranges}
}

// SetRange narrows the subarray's range along dimIdx, mirroring add_range.
func (s *Subarray) SetRange(dimIdx int, lo, hi float64) error {
	if dimIdx < 0 || dimIdx >= len(s.Ranges) {
		return fmt.Errorf("dimension index %d out of range", dimIdx)
	}
	if lo > hi {
		return fmt.Errorf("range [%v, %v] on dimension %d is inverted", lo, hi, dimIdx)
	}
	s.Ranges[dimIdx] = [2]float64{lo, hi}
	return nil
}

// Validate checks sub against sch: right dimensionality, every range
// within its dimension's domain and non-inverted.
func (sub Subarray) Validate(sch *Schema) error {
	if len(sub.Ranges) != len(sch.Dimensions) {
		return fmt.Errorf("subarray has %d ranges, schema has %d dimensions", len(sub.Ranges), len(sch.Dimensions))
	}
	for i, r := range sub.Ranges {
		if r[0] > r[1] {
			return fmt.Errorf("range [%v, %v] on dimension %q is inverted", r[0], r[1], sch.Dimensions[i].Name)
		}
		dom := sch.Dimensions[i].Domain
		if r[0] < dom[0] || r[1] > dom[1] {
			return fmt.Errorf("range [%v, %v] on dimension %q exceeds domain [%v, %v]", r[0], r[1], sch.Dimensions[i].Name, dom[0], dom[1])
		}
	}
	return nil
}

// CellCount returns the number of cells sub covers, the product of each
// dimension's inclusive range length.
func (sub Subarray) CellCount() uint64 {
	n := uint64(1)
	for _, r := range sub.Ranges {
		n *= uint64(r[1]-r[0]) + 1
	}
	return n
}

// Builder fluently constructs a Schema. Used by tests and the demo command
// only; production callers are expected to load a schema built elsewhere.
type Builder struct {
	s Schema
}

func NewSchema(name string) *Builder {
	return &Builder{s: Schema{Name: name, Version: 1, TileCapacity: 1024, CellOrder: RowMajor}}
}

func (b *Builder) Dense(d bool) *Builder {
	b.s.Dense = d
	return b
}

func (b *Builder) CellOrderIs(l Layout) *Builder {
	b.s.CellOrder = l
	return b
}

func (b *Builder) TileCapacityIs(n uint64) *Builder {
	b.s.TileCapacity = n
	return b
}

func (b *Builder) Dim(name string, t CellType, lo, hi, tileExtent float64) *Builder {
	b.s.Dimensions = append(b.s.Dimensions, Dimension{Name: name, Type: t, Domain: [2]float64{lo, hi}, TileExtent: tileExtent})
	return b
}

func (b *Builder) Attr(a Attribute) *Builder {
	b.s.Attributes = append(b.s.Attributes, a)
	return b
}

func (b *Builder) Build() (*Schema, error) {
	if len(b.s.Dimensions) == 0 {
		return nil, fmt.Errorf("schema %q: at least one dimension is required", b.s.Name)
	}
	sc := b.s
	return &sc, nil
}
