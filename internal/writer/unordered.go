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

// unorderedWriteLocked implements unordered_write: a one-shot sparse write
// whose cells may arrive in any order. It sorts into the schema's cell
// order, checks/dedups duplicates, tiles, filters, writes, and commits a
// single fragment before returning.
func (w *Writer) unorderedWriteLocked(ctx context.Context, buffers []model.QueryBuffer, timestamp uint64) error {
	if err := w.requireState(StateReady); err != nil {
		return err
	}
	if w.schema.Dense {
		return werrors.InvalidArgument("unordered writes require a sparse array schema")
	}

	normalized, numCells, err := w.bindAll(buffers)
	if err != nil {
		return err
	}
	if numCells == 0 {
		w.commit(nil)
		return nil
	}
	if err := w.backend.CheckAdmission(ctx, buffer.EstimateWriteSize(normalized)); err != nil {
		return err
	}

	dimBuffers := make(map[string][]byte, len(w.schema.Dimensions))
	for _, d := range w.schema.Dimensions {
		nb, ok := normalized[d.Name]
		if !ok {
			return werrors.InvalidArgument("unordered write is missing dimension buffer: " + d.Name)
		}
		dimBuffers[d.Name] = nb.Values
	}
	set, err := coord.FromPerDimension(dimBuffers, w.schema.Dimensions)
	if err != nil {
		return err
	}

	if w.cfg.Write.CheckCoordOOB {
		if err := set.CheckOOB(); err != nil {
			return err
		}
	}

	perm := set.SortPermutation(w.schema.CellOrder)
	dupIdx := set.ComputeDups(perm)
	if len(dupIdx) > 0 {
		if w.cfg.Write.CheckCoordDups {
			return werrors.Duplicate("duplicate coordinates in unordered write").WithDetail("count", len(dupIdx))
		}
		if w.cfg.Write.DedupCoords {
			if w.metrics != nil {
				w.metrics.DuplicatesTotal.Add(float64(len(dupIdx)))
			}
			perm = coord.Dedup(perm, dupIdx)
		}
	}

	tFirst, tLast := timestamp, timestamp
	name := newFragmentName(tFirst, tLast)
	handle, err := w.backend.Create(ctx, name)
	if err != nil {
		return err
	}

	acc := fragmeta.NewAccumulator(w.schema.NDim(), timestamp)
	acc.RecordCells(uint64(len(perm)), timestamp)

	builder := tilebuilder.NewBuilder(w.schema.TileCapacity)
	fields := w.allFieldNames()

	err = w.fanOutFields(ctx, fields, func(fieldCtx context.Context, field string) error {
		meta := w.fieldMeta(field)
		nb := normalized[field]
		triples, err := builder.PrepareTiles(field, meta, nb, perm)
		if err != nil {
			return err
		}
		if err := w.writeTriplesForField(handle, acc, field, triples); err != nil {
			return err
		}
		last := builder.Flush(field, meta)
		return w.writeTriple(handle, acc, field, last)
	})
	if err != nil {
		return w.fail(ctx, handle, err)
	}

	if err := w.recordMBRs(acc, set, perm); err != nil {
		return w.fail(ctx, handle, err)
	}

	if err := w.finishFragment(ctx, handle, acc, tFirst, tLast); err != nil {
		return w.fail(ctx, handle, err)
	}

	info := model.WrittenFragmentInfo{URI: handle.URI(), TimestampRange: [2]uint64{tFirst, tLast}}
	w.commit(&info)
	return nil
}

// recordMBRs computes each sparse tile's MBR, the last short tile
// included, in the same capacity-sized chunks the tile builder used, and
// folds them into acc.
func (w *Writer) recordMBRs(acc *fragmeta.Accumulator, set *coord.Set, perm []int) error {
	tileCap := w.schema.TileCapacity
	if tileCap == 0 {
		tileCap = uint64(len(perm))
	}
	for start := uint64(0); start < uint64(len(perm)); start += tileCap {
		end := start + tileCap
		if end > uint64(len(perm)) {
			end = uint64(len(perm))
		}
		mbr := mbrOf(set, perm[start:end])
		if err := acc.AddTileMBR(mbr); err != nil {
			return err
		}
	}
	return nil
}

func mbrOf(set *coord.Set, idx []int) fragmeta.MBR {
	mbr := make(fragmeta.MBR, len(set.Dims))
	for di, d := range set.Dims {
		lo, hi := set.Values[d.Name][idx[0]], set.Values[d.Name][idx[0]]
		for _, i := range idx[1:] {
			v := set.Values[d.Name][i]
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		mbr[di] = [2]float64{lo, hi}
	}
	return mbr
}

// finishFragment writes the footer and commits the fragment handle.
func (w *Writer) finishFragment(ctx context.Context, handle storagemanager.FragmentHandle, acc *fragmeta.Accumulator, tFirst, tLast uint64) error {
	footer := acc.Encode()
	if err := handle.WriteFooter(footer); err != nil {
		return err
	}
	if err := handle.Commit(ctx); err != nil {
		return err
	}
	if w.metrics != nil {
		size := int64(len(footer))
		if f, err := fragmeta.Decode(footer); err == nil {
			for _, e := range f.TileOffsets {
				size += int64(e.Length)
			}
		}
		w.metrics.RecordFragmentCommitted(size)
	}
	w.stats.CellsWritten += acc.CellNum()
	w.stats.TilesWritten += acc.TileNum()
	w.stats.FragmentsWritten++
	return nil
}

// fieldMeta looks up a field's tiling metadata from the schema.
func (w *Writer) fieldMeta(field string) tilebuilder.FieldMeta {
	if a, ok := w.schema.Attr(field); ok {
		return tilebuilder.FieldMeta{
			CellSize:  a.Type.ByteSize(),
			VarLength: a.VarLength,
			Nullable:  a.Nullable,
			FillValue: a.FillValue,
		}
	}
	d, _ := w.schema.Dim(field)
	return tilebuilder.FieldMeta{CellSize: d.Type.ByteSize()}
}
