// Package model holds the small value types shared across the Writer's
// internal packages: the caller-facing query buffer, the in-memory tile, and
// the write-visible fragment summary.
package model

// OffsetsFormat selects how a caller's variable-length offsets buffer should
// be interpreted.
type OffsetsFormat int

const (
	OffsetsBytes OffsetsFormat = iota
	OffsetsElements
)

// OffsetsBitsize is the width of a caller's offsets buffer elements.
type OffsetsBitsize int

const (
	Bitsize32 OffsetsBitsize = 32
	Bitsize64 OffsetsBitsize = 64
)

// QueryBuffer is exactly the triple described in spec.md §3: a caller-owned
// values region plus optional offsets (variable-length) and validity
// (nullable) regions. The Writer borrows these slices without copying
// them; it keeps the most recently submitted set for its Buffer read-back
// until Reset.
type QueryBuffer struct {
	Name     string
	Values   []byte
	Offsets  []byte // raw, caller-format; nil for fixed-size fields
	Validity []byte // one byte per cell, nonzero = valid; nil if not nullable

	// OffsetsFormat/OffsetsBitsize/OffsetsExtraElement describe how to
	// interpret Offsets. The caller sets them per buffer; the Writer
	// does not fill them in from the writer-wide config.
	OffsetsFormat        OffsetsFormat
	OffsetsBitsize       OffsetsBitsize
	OffsetsExtraElement  bool
}

// IsVar reports whether this buffer represents a variable-length field.
func (b QueryBuffer) IsVar() bool {
	return b.Offsets != nil
}

// IsNullable reports whether this buffer carries a validity region.
func (b QueryBuffer) IsNullable() bool {
	return b.Validity != nil
}

// NormalizedBuffer is a QueryBuffer after §4.1/Design-Notes normalization:
// offsets are always 64-bit, byte-based, with no extra trailing element, and
// CellCount has been derived and cross-checked against every region's size.
type NormalizedBuffer struct {
	Name      string
	CellCount uint64
	Values    []byte
	Offsets   []uint64 // len == CellCount, Offsets[i] is the byte offset of cell i into Values
	Validity  []byte   // len == CellCount, or nil
}

// Tile is the unit of filtering, I/O and indexing: a contiguous run of
// cells, already normalized, not yet filtered.
type Tile struct {
	Data      []byte // for fixed-size tiles: cell data; for var-size: either offsets or values stream
	CellCount uint64
}

// TileTriple bundles the up-to-three tiles one cell-range produces for a
// single attribute/dimension: offsets (var-size only), values, and validity
// (nullable only). Mirrors the original writer's
// std::tuple<Tile, Tile, Tile> GlobalWriteState::last_tiles_ entry.
type TileTriple struct {
	Offsets  *Tile
	Values   *Tile
	Validity *Tile
}

func (t TileTriple) Empty() bool {
	if t.Values == nil {
		return true
	}
	return t.Values.CellCount == 0
}

// WrittenFragmentInfo describes one fragment produced by a non-global write
// (or by finalize() of a global write), returned from
// Writer.WrittenFragmentInfo().
type WrittenFragmentInfo struct {
	URI       string
	TimestampRange [2]uint64
}
