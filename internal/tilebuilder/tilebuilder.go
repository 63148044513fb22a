// Package tilebuilder slices normalized field buffers, already in the
// write's cell order, into fixed-capacity tiles ready for filtering and
// storage. It carries a partial last tile across successive calls within
// one global write (prepare_full_tiles / prepare_tiles in the original),
// and separately builds fixed-shape dense tiles padded with each
// attribute's fill value for ordered (dense) writes.
package tilebuilder

import (
	werrors "github.com/devrev/arraydb/writer-node/internal/errors"
	"github.com/devrev/arraydb/writer-node/internal/model"
	"github.com/devrev/arraydb/writer-node/internal/schema"
)

// FieldMeta is the subset of schema information a tile needs per field.
type FieldMeta struct {
	CellSize  int // fixed-size cell width; 0 for var-length fields
	VarLength bool
	Nullable  bool
	FillValue []byte
}

// Builder accumulates sparse tiles across calls, carrying a partial last
// tile per field between write() submissions in global mode. Mirrors
// GlobalWriteState::last_tiles_.
type Builder struct {
	capacity uint64
	partial  map[string]*partialTile
}

type partialTile struct {
	values   []byte
	offsets  []uint64 // var-length only: byte offset of each buffered cell into values
	validity []byte
	cells    uint64
}

func NewBuilder(capacity uint64) *Builder {
	return &Builder{capacity: capacity, partial: make(map[string]*partialTile)}
}

// PrepareTiles slices one field's normalized buffer, visited in perm
// order, into zero or more full tiles plus an updated partial carryover
// that is retained internally for the field's next call. It returns only
// the tiles that reached capacity; call Flush to force the partial tile
// out (e.g. at finalize()).
func (b *Builder) PrepareTiles(field string, meta FieldMeta, nb *model.NormalizedBuffer, perm []int) ([]model.TileTriple, error) {
	pt := b.partial[field]
	if pt == nil {
		pt = &partialTile{}
		b.partial[field] = pt
	}

	var out []model.TileTriple

	for _, idx := range perm {
		if err := appendCell(pt, meta, nb, idx); err != nil {
			return nil, err
		}
		pt.cells++
		if pt.cells == b.capacity {
			out = append(out, toTriple(pt, meta))
			b.partial[field] = &partialTile{}
			pt = b.partial[field]
		}
	}

	return out, nil
}

func appendCell(pt *partialTile, meta FieldMeta, nb *model.NormalizedBuffer, idx int) error {
	if meta.VarLength {
		start := nb.Offsets[idx]
		var end uint64
		if idx+1 < len(nb.Offsets) {
			end = nb.Offsets[idx+1]
		} else {
			end = uint64(len(nb.Values))
		}
		if end < start || end > uint64(len(nb.Values)) {
			return werrors.Shape("invalid variable-length cell bounds")
		}
		pt.offsets = append(pt.offsets, uint64(len(pt.values)))
		pt.values = append(pt.values, nb.Values[start:end]...)
	} else {
		if meta.CellSize == 0 {
			return werrors.InvalidArgument("fixed-size field has zero cell size")
		}
		off := idx * meta.CellSize
		if off+meta.CellSize > len(nb.Values) {
			return werrors.Shape("cell index out of range for fixed-size values buffer")
		}
		pt.values = append(pt.values, nb.Values[off:off+meta.CellSize]...)
	}
	if meta.Nullable {
		if idx >= len(nb.Validity) {
			return werrors.Shape("cell index out of range for validity buffer")
		}
		pt.validity = append(pt.validity, nb.Validity[idx])
	}
	return nil
}

func toTriple(pt *partialTile, meta FieldMeta) model.TileTriple {
	t := model.TileTriple{
		Values: &model.Tile{Data: pt.values, CellCount: pt.cells},
	}
	if meta.VarLength {
		buf := make([]byte, len(pt.offsets)*8)
		for i, o := range pt.offsets {
			putLE64(buf[i*8:i*8+8], o)
		}
		t.Offsets = &model.Tile{Data: buf, CellCount: pt.cells}
	}
	if meta.Nullable {
		t.Validity = &model.Tile{Data: pt.validity, CellCount: pt.cells}
	}
	return t
}

func putLE64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v)
		v >>= 8
	}
}

// Flush forces out whatever partial tile is currently buffered for field,
// even if it has not reached capacity. Used at finalize() to emit the
// global write's last (possibly short) tile per attribute/dimension.
func (b *Builder) Flush(field string, meta FieldMeta) model.TileTriple {
	pt := b.partial[field]
	if pt == nil || pt.cells == 0 {
		return model.TileTriple{Values: &model.Tile{CellCount: 0}}
	}
	t := toTriple(pt, meta)
	b.partial[field] = &partialTile{}
	return t
}

// AllLastTilesEmpty reports whether every field currently has an empty
// partial tile, i.e. no cell has been submitted since the last flush.
// Mirrors all_last_tiles_empty, used to decide whether finalize() of a
// global write should produce a fragment at all.
func (b *Builder) AllLastTilesEmpty() bool {
	for _, pt := range b.partial {
		if pt.cells > 0 {
			return false
		}
	}
	return true
}

// Reset drops all carried-over partial tile state, used by Writer.reset().
func (b *Builder) Reset() {
	b.partial = make(map[string]*partialTile)
}

// DenseTiler slices a one-shot ordered (dense) write into fixed-shape
// tiles sized by the schema's per-dimension tile extents, padding any
// short leading or trailing tile with the field's fill value. Unlike
// Builder, it carries no state across calls: ordered writes are always
// one-shot.
type DenseTiler struct {
	cellsPerTile uint64
	// startCell is the subarray's position within the whole-domain's
	// flattened tile grid (TileDomain::start_offset in the original),
	// nonzero whenever a dense write targets a subarray that does not
	// begin at a global tile boundary.
	startCell uint64
}

// NewDenseTiler builds a tiler for dims' tile extents. startCell is the
// flattened global cell index the written subarray begins at (0 for a
// write covering the whole domain, or any subarray beginning on a tile
// boundary).
func NewDenseTiler(dims []schema.Dimension, startCell uint64) *DenseTiler {
	n := uint64(1)
	for _, d := range dims {
		if d.TileExtent > 0 {
			n *= uint64(d.TileExtent)
		}
	}
	if n == 0 {
		n = 1
	}
	return &DenseTiler{cellsPerTile: n, startCell: startCell}
}

// Tile slices nb's values into cellsPerTile-sized tiles aligned to the
// global tile grid at startCell, in submission order (already required to
// be row/col-major over the subarray). Any leading or trailing cells of a
// boundary tile that fall outside the subarray are padded — with
// meta.FillValue for a fixed-size field, or an empty (zero-length) entry
// for a var-length one — this is how a subarray that neither starts nor
// ends on a tile boundary still produces fixed-shape tiles. A nullable
// field additionally gets a Validity tile whose padded cells are marked
// invalid. Mirrors the four write_empty_cell_range_to_tile* overloads in
// the original, fixed/var crossed with nullable/non-nullable.
func (dt *DenseTiler) Tile(meta FieldMeta, nb *model.NormalizedBuffer) ([]model.TileTriple, error) {
	if !meta.VarLength && meta.CellSize == 0 {
		return nil, werrors.InvalidArgument("fixed-size field has zero cell size")
	}

	total := nb.CellCount
	leadingPad := dt.startCell % dt.cellsPerTile

	var triples []model.TileTriple
	for written := uint64(0); written < total; {
		tileStart := leadingPad
		if written > 0 {
			tileStart = 0
		}
		n := dt.cellsPerTile - tileStart
		if remaining := total - written; n > remaining {
			n = remaining
		}

		var triple model.TileTriple
		if meta.VarLength {
			triple = dt.buildVarTile(meta, nb, written, n, tileStart)
		} else {
			triple = dt.buildFixedTile(meta, nb, written, n, tileStart)
		}
		triples = append(triples, triple)
		written += n
	}
	return triples, nil
}

// buildFixedTile builds one cellsPerTile-wide fixed-size tile, with real
// cells copied in at [tileStart, tileStart+n) and every other slot filled
// with meta.FillValue. Mirrors write_empty_cell_range_to_tile /
// write_empty_cell_range_to_tile_nullable.
func (dt *DenseTiler) buildFixedTile(meta FieldMeta, nb *model.NormalizedBuffer, written, n, tileStart uint64) model.TileTriple {
	size := uint64(meta.CellSize)
	data := make([]byte, dt.cellsPerTile*size)
	if len(meta.FillValue) == meta.CellSize {
		for i := uint64(0); i < dt.cellsPerTile; i++ {
			copy(data[i*size:(i+1)*size], meta.FillValue)
		}
	}
	copy(data[tileStart*size:(tileStart+n)*size], nb.Values[written*size:(written+n)*size])

	triple := model.TileTriple{Values: &model.Tile{Data: data, CellCount: dt.cellsPerTile}}
	if meta.Nullable {
		validity := make([]byte, dt.cellsPerTile) // padded cells default to 0 (null)
		copy(validity[tileStart:tileStart+n], nb.Validity[written:written+n])
		triple.Validity = &model.Tile{Data: validity, CellCount: dt.cellsPerTile}
	}
	return triple
}

// buildVarTile builds one cellsPerTile-entry offsets tile plus a values
// tile holding only the real cells' bytes; padded slots get a zero-length
// entry, at offset 0 before the real cells and past the last real byte
// after them. Mirrors
// write_empty_cell_range_to_tile_var / _var_nullable.
func (dt *DenseTiler) buildVarTile(meta FieldMeta, nb *model.NormalizedBuffer, written, n, tileStart uint64) model.TileTriple {
	offsets := make([]uint64, dt.cellsPerTile)
	var values []byte
	var validity []byte
	if meta.Nullable {
		validity = make([]byte, dt.cellsPerTile)
	}

	for i := tileStart; i < tileStart+n; i++ {
		idx := written + (i - tileStart)
		start := nb.Offsets[idx]
		var end uint64
		if int(idx)+1 < len(nb.Offsets) {
			end = nb.Offsets[idx+1]
		} else {
			end = uint64(len(nb.Values))
		}
		offsets[i] = uint64(len(values))
		values = append(values, nb.Values[start:end]...)
		if meta.Nullable {
			validity[i] = nb.Validity[idx]
		}
	}
	// Padded slots contribute no bytes to values: those from tileStart+n
	// on point at the end of values, those before tileStart at 0.
	for i := tileStart + n; i < dt.cellsPerTile; i++ {
		offsets[i] = uint64(len(values))
	}
	for i := uint64(0); i < tileStart; i++ {
		offsets[i] = 0
	}

	offsetData := make([]byte, dt.cellsPerTile*8)
	for i, o := range offsets {
		putLE64(offsetData[i*8:i*8+8], o)
	}

	triple := model.TileTriple{
		Offsets: &model.Tile{Data: offsetData, CellCount: dt.cellsPerTile},
		Values:  &model.Tile{Data: values, CellCount: dt.cellsPerTile},
	}
	if meta.Nullable {
		triple.Validity = &model.Tile{Data: validity, CellCount: dt.cellsPerTile}
	}
	return triple
}
