// Package buffer validates and normalizes the caller-bound query buffers
// described in spec.md §3 before they reach coordinate preparation or tile
// building: per-field shape checks, offsets normalization across
// bytes/elements and 32/64-bit formats, and validity-length checks.
package buffer

import (
	"encoding/binary"

	werrors "github.com/devrev/arraydb/writer-node/internal/errors"
	"github.com/devrev/arraydb/writer-node/internal/model"
	"github.com/devrev/arraydb/writer-node/internal/schema"
)

// Binder validates and normalizes buffers bound against one schema.
// Mirrors check_buffer_names/check_buffer_sizes/check_var_attr_offsets in
// the original writer.
type Binder struct {
	schema *schema.Schema
}

func NewBinder(s *schema.Schema) *Binder {
	return &Binder{schema: s}
}

// BindAndValidate normalizes every buffer and cross-checks that every
// field's cell count agrees, returning the common cell count.
func (b *Binder) BindAndValidate(buffers []model.QueryBuffer) (map[string]*model.NormalizedBuffer, uint64, error) {
	if len(buffers) == 0 {
		return nil, 0, werrors.InvalidArgument("no buffers bound")
	}

	out := make(map[string]*model.NormalizedBuffer, len(buffers))
	var numCells uint64
	haveCount := false

	for _, buf := range buffers {
		if !b.schema.IsField(buf.Name) {
			return nil, 0, werrors.InvalidArgument("bound buffer does not name a schema field: " + buf.Name)
		}

		nb, err := b.normalize(buf)
		if err != nil {
			return nil, 0, err
		}

		if haveCount && nb.CellCount != numCells {
			return nil, 0, werrors.Shape("buffers disagree on cell count").
				WithDetail("field", buf.Name).
				WithDetail("got", nb.CellCount).
				WithDetail("want", numCells)
		}
		numCells = nb.CellCount
		haveCount = true
		out[buf.Name] = nb
	}

	return out, numCells, nil
}

func (b *Binder) normalize(buf model.QueryBuffer) (*model.NormalizedBuffer, error) {
	isVar, isNullable, cellSize, err := b.fieldShape(buf)
	if err != nil {
		return nil, err
	}

	nb := &model.NormalizedBuffer{Name: buf.Name, Values: buf.Values}

	if isVar {
		offsets, err := normalizeOffsets(buf, cellSize)
		if err != nil {
			return nil, err
		}
		nb.Offsets = offsets
		nb.CellCount = uint64(len(offsets))
		if err := checkVarOffsetsMonotonic(offsets, uint64(len(buf.Values))); err != nil {
			return nil, werrors.Shape("offsets for field " + buf.Name + ": " + err.Error())
		}
	} else {
		if cellSize == 0 || len(buf.Values)%cellSize != 0 {
			return nil, werrors.Shape("values buffer for field " + buf.Name + " is not a multiple of the field's cell size")
		}
		nb.CellCount = uint64(len(buf.Values) / cellSize)
	}

	if isNullable {
		if buf.Validity == nil {
			return nil, werrors.InvalidArgument("field " + buf.Name + " is nullable but no validity buffer was bound")
		}
		if uint64(len(buf.Validity)) != nb.CellCount {
			return nil, werrors.Shape("validity buffer for field " + buf.Name + " does not match cell count")
		}
		nb.Validity = buf.Validity
	} else if buf.Validity != nil {
		return nil, werrors.InvalidArgument("field " + buf.Name + " is not nullable but a validity buffer was bound")
	}

	return nb, nil
}

func (b *Binder) fieldShape(buf model.QueryBuffer) (isVar, isNullable bool, cellSize int, err error) {
	if attr, ok := b.schema.Attr(buf.Name); ok {
		if attr.VarLength != buf.IsVar() {
			return false, false, 0, werrors.InvalidArgument("field " + buf.Name + ": variable-length binding does not match schema")
		}
		return attr.VarLength, attr.Nullable, attr.Type.ByteSize(), nil
	}
	if dim, ok := b.schema.Dim(buf.Name); ok {
		if buf.IsVar() {
			return false, false, 0, werrors.InvalidArgument("dimension " + buf.Name + " cannot be variable-length")
		}
		if buf.IsNullable() {
			return false, false, 0, werrors.InvalidArgument("dimension " + buf.Name + " cannot be nullable")
		}
		return false, false, dim.Type.ByteSize(), nil
	}
	return false, false, 0, werrors.InvalidArgument("unknown field " + buf.Name)
}

// normalizeOffsets converts a caller's raw offsets buffer into the
// canonical form: 64-bit byte offsets, one per cell, with any trailing
// extra element (get_offset_buffer_size / get_check_extra_element in the
// original) stripped off. elementSize is the field's per-element byte width
// (attr_datatype_size in the original writer), needed to scale
// elements-mode offsets up to byte offsets.
func normalizeOffsets(buf model.QueryBuffer, elementSize int) ([]uint64, error) {
	width := 4
	if buf.OffsetsBitsize == model.Bitsize64 {
		width = 8
	}
	if len(buf.Offsets)%width != 0 {
		return nil, werrors.Shape("offsets buffer size is not a multiple of the offsets element width")
	}
	n := len(buf.Offsets) / width
	if buf.OffsetsExtraElement {
		if n == 0 {
			return nil, werrors.Shape("offsets buffer with extra element must have at least one element")
		}
		n--
	}

	out := make([]uint64, n)
	for i := 0; i < n; i++ {
		var raw uint64
		off := i * width
		if width == 4 {
			raw = uint64(binary.LittleEndian.Uint32(buf.Offsets[off : off+4]))
		} else {
			raw = binary.LittleEndian.Uint64(buf.Offsets[off : off+8])
		}
		if buf.OffsetsFormat == model.OffsetsElements {
			raw *= uint64(elementSize)
		}
		out[i] = raw
	}
	return out, nil
}

func checkVarOffsetsMonotonic(offsets []uint64, valuesLen uint64) error {
	for i := 1; i < len(offsets); i++ {
		if offsets[i] < offsets[i-1] {
			return werrors.Shape("offsets must be non-decreasing")
		}
	}
	if len(offsets) > 0 && offsets[len(offsets)-1] > valuesLen {
		return werrors.Shape("final offset exceeds the values buffer size")
	}
	return nil
}

// EstimateWriteSize estimates the bytes a write will add to storage,
// used by the storage backend's admission check before any tile is
// flushed. Mirrors EstimateWriteSize in the teacher's validator, scaled to
// per-cell byte accounting instead of per-key/value accounting.
func EstimateWriteSize(normalized map[string]*model.NormalizedBuffer) uint64 {
	var total uint64
	for _, nb := range normalized {
		total += uint64(len(nb.Values))
		total += uint64(len(nb.Offsets)) * 8
		total += uint64(len(nb.Validity))
	}
	// Fragment metadata and per-tile framing overhead, amortized.
	return total + (total / 10) + 4096
}
