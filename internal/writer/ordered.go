package writer

import (
	"context"

	"github.com/devrev/arraydb/writer-node/internal/buffer"
	werrors "github.com/devrev/arraydb/writer-node/internal/errors"
	"github.com/devrev/arraydb/writer-node/internal/fragmeta"
	"github.com/devrev/arraydb/writer-node/internal/model"
	"github.com/devrev/arraydb/writer-node/internal/schema"
	"github.com/devrev/arraydb/writer-node/internal/tilebuilder"
)

// orderedWriteLocked implements ordered_write: a one-shot dense write
// whose attribute buffers already cover the bound subarray (the whole
// domain when none is bound) in row/col-major order. No coordinate
// buffers are bound; DenseTiler cuts the cells into tiles of the schema's
// cells-per-tile count, padding a short leading or trailing tile with the
// attribute's fill value.
func (w *Writer) orderedWriteLocked(ctx context.Context, buffers []model.QueryBuffer, timestamp uint64) error {
	if err := w.requireState(StateReady); err != nil {
		return err
	}
	if !w.schema.Dense {
		return werrors.InvalidArgument("ordered writes require a dense array schema")
	}

	for _, b := range buffers {
		if _, ok := w.schema.Dim(b.Name); ok {
			return werrors.InvalidArgument("ordered writes do not bind coordinate buffers: " + b.Name)
		}
	}

	normalized, numCells, err := w.bindAll(buffers)
	if err != nil {
		return err
	}
	if numCells == 0 {
		w.commit(nil)
		return nil
	}

	sub := w.effectiveSubarray()
	// Only an explicitly bound subarray constrains the cell count: with no
	// subarray bound, an ordered write may submit fewer cells than the
	// whole domain and simply pads the trailing tile, as it always has.
	if w.subarray != nil && numCells != sub.CellCount() {
		return werrors.Shape("bound buffers cover a different cell count than the bound subarray").
			WithDetail("buffer_cells", numCells).
			WithDetail("subarray_cells", sub.CellCount())
	}

	if err := w.backend.CheckAdmission(ctx, buffer.EstimateWriteSize(normalized)); err != nil {
		return err
	}

	tFirst, tLast := timestamp, timestamp
	name := newFragmentName(tFirst, tLast)
	handle, err := w.backend.Create(ctx, name)
	if err != nil {
		return err
	}

	acc := fragmeta.NewAccumulator(w.schema.NDim(), timestamp)
	acc.RecordCells(numCells, timestamp)
	// Ordered (dense) writes cover exactly the bound subarray; there is no
	// sparse coordinate stream to derive a tighter MBR from, so the
	// fragment's non-empty domain is the subarray itself, not the schema's
	// whole domain.
	if err := acc.AddTileMBR(subarrayMBR(sub)); err != nil {
		return w.fail(ctx, handle, err)
	}

	startCell, err := globalStartCell(w.schema.Dimensions, sub, w.schema.CellOrder)
	if err != nil {
		return w.fail(ctx, handle, err)
	}
	tiler := tilebuilder.NewDenseTiler(w.schema.Dimensions, startCell)
	attrNames := make([]string, len(w.schema.Attributes))
	for i, a := range w.schema.Attributes {
		attrNames[i] = a.Name
	}

	err = w.fanOutFields(ctx, attrNames, func(fieldCtx context.Context, field string) error {
		meta := w.fieldMeta(field)
		nb := normalized[field]
		triples, err := tiler.Tile(meta, nb)
		if err != nil {
			return err
		}
		return w.writeTriplesForField(handle, acc, field, triples)
	})
	if err != nil {
		return w.fail(ctx, handle, err)
	}

	if err := w.finishFragment(ctx, handle, acc, tFirst, tLast); err != nil {
		return w.fail(ctx, handle, err)
	}

	info := model.WrittenFragmentInfo{URI: handle.URI(), TimestampRange: [2]uint64{tFirst, tLast}}
	w.commit(&info)
	return nil
}

// effectiveSubarray returns the Writer's bound subarray, or the schema's
// whole domain if set_subarray/add_range was never called: an ordered
// write with no subarray bound covers the entire array, as before
// set_subarray existed.
func (w *Writer) effectiveSubarray() schema.Subarray {
	if w.subarray != nil {
		return *w.subarray
	}
	return schema.NewSubarray(w.schema)
}

// subarrayMBR returns sub's ranges as the fragment's non-empty domain.
func subarrayMBR(sub schema.Subarray) fragmeta.MBR {
	mbr := make(fragmeta.MBR, len(sub.Ranges))
	copy(mbr, sub.Ranges)
	return mbr
}

// globalStartCell locates sub's first cell within the flattened,
// whole-domain cell order a one-shot dense write would enumerate, so
// DenseTiler can align the subarray's tiles to the schema's global tile
// grid instead of always starting a fresh tile at index 0 — the same
// TileDomain::start_offset computation the original writer's DenseTiler
// uses to place a subarray that does not begin at a tile boundary.
func globalStartCell(dims []schema.Dimension, sub schema.Subarray, order schema.Layout) (uint64, error) {
	n := len(dims)
	if len(sub.Ranges) != n {
		return 0, werrors.Internal("subarray dimensionality does not match schema", nil)
	}

	size := make([]uint64, n)
	offset := make([]uint64, n)
	for i, d := range dims {
		size[i] = uint64(d.Domain[1]-d.Domain[0]) + 1
		offset[i] = uint64(sub.Ranges[i][0] - d.Domain[0])
	}

	stride := make([]uint64, n)
	switch order {
	case schema.ColMajor:
		stride[0] = 1
		for i := 1; i < n; i++ {
			stride[i] = stride[i-1] * size[i-1]
		}
	default: // RowMajor and every other layout enumerate row-major here
		if n > 0 {
			stride[n-1] = 1
		}
		for i := n - 2; i >= 0; i-- {
			stride[i] = stride[i+1] * size[i+1]
		}
	}

	var start uint64
	for i := 0; i < n; i++ {
		start += offset[i] * stride[i]
	}
	return start, nil
}
