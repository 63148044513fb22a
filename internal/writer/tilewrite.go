package writer

import (
	"context"
	"time"

	"github.com/devrev/arraydb/writer-node/internal/fragmeta"
	"github.com/devrev/arraydb/writer-node/internal/model"
	"github.com/devrev/arraydb/writer-node/internal/storagemanager"
)

// writeTile filters and flushes one field's tile region to the fragment
// handle, recording its offset in acc. Mirrors filter_tile + write_tiles.
func (w *Writer) writeTile(handle storagemanager.FragmentHandle, acc *fragmeta.Accumulator, field string, kind storagemanager.TileKind, tile *model.Tile) error {
	if tile == nil || tile.CellCount == 0 {
		return nil
	}

	pipeline := w.pipelines[field].Clone()

	filterStart := time.Now()
	filtered, err := pipeline.Filter(tile.Data)
	if err != nil {
		return err
	}
	if w.metrics != nil {
		w.metrics.RecordFilterStage(field, time.Since(filterStart).Seconds())
	}

	writeStart := time.Now()
	offset, err := handle.WriteTile(field, kind, filtered)
	if err != nil {
		return err
	}
	if w.metrics != nil {
		w.metrics.RecordTile(len(filtered), time.Since(writeStart).Seconds())
	}

	acc.AddTileOffset(field, kind, offset, uint64(len(filtered)))
	return nil
}

// writeTriple writes every non-empty region of a TileTriple for field.
func (w *Writer) writeTriple(handle storagemanager.FragmentHandle, acc *fragmeta.Accumulator, field string, triple model.TileTriple) error {
	if err := w.writeTile(handle, acc, field, storagemanager.TileOffsets, triple.Offsets); err != nil {
		return err
	}
	if err := w.writeTile(handle, acc, field, storagemanager.TileValues, triple.Values); err != nil {
		return err
	}
	if err := w.writeTile(handle, acc, field, storagemanager.TileValidity, triple.Validity); err != nil {
		return err
	}
	return nil
}

// writeTriplesForField writes every triple for one field, in order.
func (w *Writer) writeTriplesForField(handle storagemanager.FragmentHandle, acc *fragmeta.Accumulator, field string, triples []model.TileTriple) error {
	for _, t := range triples {
		if err := w.writeTriple(handle, acc, field, t); err != nil {
			return err
		}
	}
	return nil
}

// fanOutFields runs fn for every field name concurrently across the
// worker pool and waits for all of them, mirroring the original's
// attribute/dimension-parallel tile preparation within one write() call.
// Each job is submitted under its field's own name so pool logs and
// recovered panics identify which attribute or dimension was being tiled.
func (w *Writer) fanOutFields(ctx context.Context, fields []string, fn func(ctx context.Context, field string) error) error {
	jobs := make([]func(context.Context) error, len(fields))
	for i, f := range fields {
		f := f
		jobs[i] = func(jobCtx context.Context) error {
			return fn(jobCtx, f)
		}
	}
	return w.pool.GroupLabeled(ctx, fields, jobs)
}

// allFieldNames returns every dimension then attribute name.
func (w *Writer) allFieldNames() []string {
	names := make([]string, 0, len(w.schema.Dimensions)+len(w.schema.Attributes))
	for _, d := range w.schema.Dimensions {
		names = append(names, d.Name)
	}
	for _, a := range w.schema.Attributes {
		names = append(names, a.Name)
	}
	return names
}
