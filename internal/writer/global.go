package writer

import (
	"context"

	"github.com/devrev/arraydb/writer-node/internal/buffer"
	"github.com/devrev/arraydb/writer-node/internal/coord"
	werrors "github.com/devrev/arraydb/writer-node/internal/errors"
	"github.com/devrev/arraydb/writer-node/internal/fragmeta"
	"github.com/devrev/arraydb/writer-node/internal/model"
	"github.com/devrev/arraydb/writer-node/internal/storagemanager"
	"github.com/devrev/arraydb/writer-node/internal/tilebuilder"
)

// globalWriteState spans every write() call of one global write, from the
// first submission that opens it through the Finalize that closes it.
// Mirrors GlobalWriteState.
type globalWriteState struct {
	handle  storagemanager.FragmentHandle
	acc     *fragmeta.Accumulator
	builder *tilebuilder.Builder

	tFirst uint64
	tLast  uint64

	// prevLast carries the last-written coordinate across the write()
	// call boundary, so a duplicate split across two submissions is
	// still caught. Resolves the cross-submission duplicate detection
	// open question recorded in DESIGN.md.
	prevLast map[string]float64

	// carryCoords buffers coordinate values not yet folded into a tile
	// MBR, chunked at the schema's tile capacity in lockstep with the
	// tile builder's own per-field chunking.
	carryCoords map[string][]float64
	carryCount  uint64
}

// globalWriteLocked implements global_write: an incremental sparse write
// whose data, already in the schema's global cell order, may arrive
// across many Write calls and is only committed on Finalize.
func (w *Writer) globalWriteLocked(ctx context.Context, buffers []model.QueryBuffer, timestamp uint64) error {
	if w.state != StateReady && w.state != StateGlobalOpen {
		return werrors.State("writer is in state " + w.state.String() + ", expected ready or global-open")
	}
	if w.schema.Dense {
		return werrors.InvalidArgument("global writes require a sparse array schema")
	}

	if w.state == StateReady {
		name := newFragmentName(timestamp, timestamp)
		handle, err := w.backend.Create(ctx, name)
		if err != nil {
			return err
		}
		w.global = &globalWriteState{
			handle:      handle,
			acc:         fragmeta.NewAccumulator(w.schema.NDim(), timestamp),
			builder:     tilebuilder.NewBuilder(w.schema.TileCapacity),
			tFirst:      timestamp,
			tLast:       timestamp,
			carryCoords: make(map[string][]float64, w.schema.NDim()),
		}
		w.state = StateGlobalOpen
		w.recordState()
	}
	gws := w.global

	normalized, numCells, err := w.bindAll(buffers)
	if err != nil {
		return w.fail(ctx, gws.handle, err)
	}
	if numCells == 0 {
		return nil
	}
	if err := w.backend.CheckAdmission(ctx, buffer.EstimateWriteSize(normalized)); err != nil {
		return w.fail(ctx, gws.handle, err)
	}

	dimBuffers := make(map[string][]byte, len(w.schema.Dimensions))
	for _, d := range w.schema.Dimensions {
		nb, ok := normalized[d.Name]
		if !ok {
			return w.fail(ctx, gws.handle, werrors.InvalidArgument("global write is missing dimension buffer: "+d.Name))
		}
		dimBuffers[d.Name] = nb.Values
	}
	set, err := coord.FromPerDimension(dimBuffers, w.schema.Dimensions)
	if err != nil {
		return w.fail(ctx, gws.handle, err)
	}

	if w.cfg.Write.CheckCoordOOB {
		if err := set.CheckOOB(); err != nil {
			return w.fail(ctx, gws.handle, err)
		}
	}
	if !w.cfg.Write.DisableGlobalOrderCheck && !w.noGlobalOrderCheck {
		if err := set.CheckGlobalOrder(w.schema.CellOrder); err != nil {
			return w.fail(ctx, gws.handle, err)
		}
	}

	perm := make([]int, set.NumCells)
	for i := range perm {
		perm[i] = i
	}

	dupIdx := set.ComputeDupsAcrossBoundary(perm, gws.prevLast)
	if len(dupIdx) > 0 {
		if w.cfg.Write.CheckCoordDups {
			return w.fail(ctx, gws.handle, werrors.Duplicate("duplicate coordinates in global write").WithDetail("count", len(dupIdx)))
		}
		if w.cfg.Write.DedupCoords {
			if w.metrics != nil {
				w.metrics.DuplicatesTotal.Add(float64(len(dupIdx)))
			}
			perm = coord.Dedup(perm, dupIdx)
		}
	}
	if len(perm) == 0 {
		return nil
	}

	if timestamp < gws.tFirst {
		gws.tFirst = timestamp
	}
	if timestamp > gws.tLast {
		gws.tLast = timestamp
	}
	gws.acc.RecordCells(uint64(len(perm)), timestamp)
	gws.prevLast = set.Last(perm)

	err = w.fanOutFields(ctx, w.allFieldNames(), func(fieldCtx context.Context, field string) error {
		meta := w.fieldMeta(field)
		nb := normalized[field]
		triples, err := gws.builder.PrepareTiles(field, meta, nb, perm)
		if err != nil {
			return err
		}
		return w.writeTriplesForField(gws.handle, gws.acc, field, triples)
	})
	if err != nil {
		return w.fail(ctx, gws.handle, err)
	}

	if err := w.carryMBRs(gws, set, perm); err != nil {
		return w.fail(ctx, gws.handle, err)
	}

	return nil
}

// carryMBRs appends perm's coordinates to the global write's carryover
// buffer and folds out any chunk that has reached the schema's tile
// capacity, keeping MBR tiling in lockstep with the tile builder.
func (w *Writer) carryMBRs(gws *globalWriteState, set *coord.Set, perm []int) error {
	for _, d := range set.Dims {
		for _, i := range perm {
			gws.carryCoords[d.Name] = append(gws.carryCoords[d.Name], set.Values[d.Name][i])
		}
	}
	gws.carryCount += uint64(len(perm))

	capacity := w.schema.TileCapacity
	if capacity == 0 {
		return nil
	}
	for gws.carryCount >= capacity {
		mbr := make(fragmeta.MBR, len(set.Dims))
		for di, d := range set.Dims {
			vals := gws.carryCoords[d.Name][:capacity]
			lo, hi := vals[0], vals[0]
			for _, v := range vals[1:] {
				if v < lo {
					lo = v
				}
				if v > hi {
					hi = v
				}
			}
			mbr[di] = [2]float64{lo, hi}
			gws.carryCoords[d.Name] = gws.carryCoords[d.Name][capacity:]
		}
		if err := gws.acc.AddTileMBR(mbr); err != nil {
			return err
		}
		gws.carryCount -= capacity
	}
	return nil
}

// Finalize closes a global write, flushing its last (possibly partial)
// tiles and committing the fragment. If no cell was ever submitted, no
// fragment is produced, resolving the recorded empty-global-write open
// question.
func (w *Writer) Finalize(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.requireState(StateGlobalOpen); err != nil {
		return err
	}
	gws := w.global

	if gws.builder.AllLastTilesEmpty() && gws.carryCount == 0 && gws.acc.CellNum() == 0 {
		if err := gws.handle.Abort(ctx); err != nil {
			w.logger.Warn("failed to abort empty global write fragment")
		}
		w.commit(nil)
		return nil
	}

	err := w.fanOutFields(ctx, w.allFieldNames(), func(fieldCtx context.Context, field string) error {
		meta := w.fieldMeta(field)
		last := gws.builder.Flush(field, meta)
		return w.writeTriple(gws.handle, gws.acc, field, last)
	})
	if err != nil {
		return w.fail(ctx, gws.handle, err)
	}

	if gws.carryCount > 0 {
		mbr := make(fragmeta.MBR, len(w.schema.Dimensions))
		for di, d := range w.schema.Dimensions {
			vals := gws.carryCoords[d.Name]
			lo, hi := vals[0], vals[0]
			for _, v := range vals[1:] {
				if v < lo {
					lo = v
				}
				if v > hi {
					hi = v
				}
			}
			mbr[di] = [2]float64{lo, hi}
		}
		if err := gws.acc.AddTileMBR(mbr); err != nil {
			return w.fail(ctx, gws.handle, err)
		}
	}

	if err := w.finishFragment(ctx, gws.handle, gws.acc, gws.tFirst, gws.tLast); err != nil {
		return w.fail(ctx, gws.handle, err)
	}

	info := model.WrittenFragmentInfo{URI: gws.handle.URI(), TimestampRange: [2]uint64{gws.tFirst, gws.tLast}}
	w.commit(&info)
	return nil
}
