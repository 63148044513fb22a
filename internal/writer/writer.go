// Package writer implements the core Writer: the lifecycle state machine
// and the three write drivers (global, ordered/dense, unordered/sparse)
// described by the original writer's write()/finalize()/reset() surface.
package writer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/devrev/arraydb/writer-node/internal/buffer"
	"github.com/devrev/arraydb/writer-node/internal/config"
	werrors "github.com/devrev/arraydb/writer-node/internal/errors"
	"github.com/devrev/arraydb/writer-node/internal/filter"
	"github.com/devrev/arraydb/writer-node/internal/metrics"
	"github.com/devrev/arraydb/writer-node/internal/model"
	"github.com/devrev/arraydb/writer-node/internal/schema"
	"github.com/devrev/arraydb/writer-node/internal/storagemanager"
	"github.com/devrev/arraydb/writer-node/internal/worker"
)

// Writer is a single logical actor: exactly one write()/finalize() call is
// ever in flight at a time against one instance. mu serializes concurrent
// misuse so it cannot corrupt fragment state; it does not make such calls
// fail, and it does not allow concurrent writes.
type Writer struct {
	mu sync.Mutex

	cfg     *config.Config
	schema  *schema.Schema
	backend storagemanager.Backend
	pool    *worker.WorkerPool
	logger  *zap.Logger
	metrics *metrics.Metrics

	pipelines map[string]*filter.Pipeline // per field name

	state              State
	global             *globalWriteState
	subarray           *schema.Subarray
	noGlobalOrderCheck bool
	boundBuffers       map[string]model.QueryBuffer

	writtenFragments []model.WrittenFragmentInfo
	stats            Stats
}

// Stats is a point-in-time snapshot of a Writer's lifetime activity,
// mirroring the counters the original writer's Stats object tracks (cells,
// tiles and fragments produced across every write()/finalize() so far).
type Stats struct {
	CellsWritten     uint64
	TilesWritten     uint64
	FragmentsWritten uint64
}

// Stats returns a snapshot of this Writer's lifetime counters.
func (w *Writer) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// Buffer returns the raw caller-bound buffer most recently submitted for
// name, mirroring the original writer's buffer(name) read-back accessor.
// It is populated by Write regardless of outcome and cleared by Reset.
func (w *Writer) Buffer(name string) (model.QueryBuffer, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	b, ok := w.boundBuffers[name]
	return b, ok
}

// GetBuffer returns name's bound values and offsets regions, mirroring
// get_buffer in the original writer. ok is false if name was never bound.
func (w *Writer) GetBuffer(name string) (values, offsets []byte, ok bool) {
	b, ok := w.Buffer(name)
	if !ok {
		return nil, nil, false
	}
	return b.Values, b.Offsets, true
}

// GetBufferNullable returns name's bound values, offsets and validity
// regions, mirroring get_buffer_nullable in the original writer.
func (w *Writer) GetBufferNullable(name string) (values, offsets, validity []byte, ok bool) {
	b, ok := w.Buffer(name)
	if !ok {
		return nil, nil, nil, false
	}
	return b.Values, b.Offsets, b.Validity, true
}

// DisableCheckGlobalOrder turns off global-order validation for this
// Writer instance regardless of the write config's
// disable_check_global_order setting, mirroring the original writer's
// explicit setter: the setter supersedes config once called.
func (w *Writer) DisableCheckGlobalOrder() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.noGlobalOrderCheck = true
}

// SetSubarray binds sub as the target range for the next dense (ordered)
// write, replacing any previously bound subarray. Only valid for dense
// schemas; mirrors set_subarray.
func (w *Writer) SetSubarray(sub schema.Subarray) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.schema.Dense {
		return werrors.InvalidArgument("set_subarray is only valid for dense arrays")
	}
	if err := sub.Validate(w.schema); err != nil {
		return werrors.InvalidArgument("invalid subarray: " + err.Error())
	}
	w.subarray = &sub
	return nil
}

// AddRange narrows the subarray bound for the next dense write along
// dimIdx, initializing it to the schema's whole domain first if no
// subarray has been set yet. Mirrors add_range.
func (w *Writer) AddRange(dimIdx int, lo, hi float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.schema.Dense {
		return werrors.InvalidArgument("add_range is only valid for dense arrays")
	}
	if w.subarray == nil {
		sub := schema.NewSubarray(w.schema)
		w.subarray = &sub
	}
	if err := w.subarray.SetRange(dimIdx, lo, hi); err != nil {
		return werrors.InvalidArgument(err.Error())
	}
	return nil
}

// GetRange returns the currently bound range for dimIdx, or the schema's
// whole domain along that dimension if no subarray has been bound.
func (w *Writer) GetRange(dimIdx int) (lo, hi float64, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if dimIdx < 0 || dimIdx >= w.schema.NDim() {
		return 0, 0, werrors.InvalidArgument("dimension index out of range")
	}
	if w.subarray != nil {
		r := w.subarray.Ranges[dimIdx]
		return r[0], r[1], nil
	}
	dom := w.schema.Dimensions[dimIdx].Domain
	return dom[0], dom[1], nil
}

// GetRangeNum returns the number of ranges bound for dimIdx. This writer
// never supports multi-range (non-contiguous) dimensions, so the answer is
// always 1 for a valid dimension index.
func (w *Writer) GetRangeNum(dimIdx int) (int, error) {
	if dimIdx < 0 || dimIdx >= w.schema.NDim() {
		return 0, werrors.InvalidArgument("dimension index out of range")
	}
	return 1, nil
}

// New constructs a Writer in StateReady for sch, writing fragments through
// backend and fanning tile work out across pool.
func New(cfg *config.Config, sch *schema.Schema, backend storagemanager.Backend, pool *worker.WorkerPool, logger *zap.Logger, m *metrics.Metrics) (*Writer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	pipelines := make(map[string]*filter.Pipeline, len(sch.Attributes))
	for _, a := range sch.Attributes {
		names := a.FilterList
		if len(names) == 0 {
			names = filterNamesFromConfig(cfg)
		}
		p, err := filter.Build(names, a.Type.ByteSize())
		if err != nil {
			return nil, err
		}
		pipelines[a.Name] = p
	}
	for _, d := range sch.Dimensions {
		p, err := filter.Build(filterNamesFromConfig(cfg), d.Type.ByteSize())
		if err != nil {
			return nil, err
		}
		pipelines[d.Name] = p
	}

	w := &Writer{
		cfg:       cfg,
		schema:    sch,
		backend:   backend,
		pool:      pool,
		logger:    logger,
		metrics:   m,
		pipelines: pipelines,
		state:     StateReady,
	}
	w.recordState()
	return w, nil
}

func filterNamesFromConfig(cfg *config.Config) []string {
	names := make([]string, 0, len(cfg.Filters))
	for _, f := range cfg.Filters {
		names = append(names, f.Name)
	}
	return names
}

func (w *Writer) recordState() {
	if w.metrics != nil {
		w.metrics.SetState(int(w.state))
	}
}

// State returns the Writer's current lifecycle state.
func (w *Writer) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// WrittenFragmentInfo returns every fragment committed by this Writer
// instance since construction; Reset does not clear this list.
func (w *Writer) WrittenFragmentInfo() []model.WrittenFragmentInfo {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]model.WrittenFragmentInfo, len(w.writtenFragments))
	copy(out, w.writtenFragments)
	return out
}

// Write submits one batch of buffers under the given layout. GlobalOrder
// writes may span multiple Write calls terminated by Finalize; every
// other layout commits its own fragment before returning.
func (w *Writer) Write(ctx context.Context, buffers []model.QueryBuffer, layout schema.Layout, timestamp uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	start := time.Now()
	mode := writeMode(layout)

	w.boundBuffers = make(map[string]model.QueryBuffer, len(buffers))
	for _, b := range buffers {
		w.boundBuffers[b.Name] = b
	}

	var err error
	switch layout {
	case schema.GlobalOrder:
		err = w.globalWriteLocked(ctx, buffers, timestamp)
	case schema.Unordered:
		err = w.unorderedWriteLocked(ctx, buffers, timestamp)
	default:
		err = w.orderedWriteLocked(ctx, buffers, timestamp)
	}

	if w.metrics != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		w.metrics.RecordWrite(mode, outcome, time.Since(start).Seconds(), totalBytes(buffers))
	}
	return err
}

func writeMode(layout schema.Layout) string {
	switch layout {
	case schema.GlobalOrder:
		return "global"
	case schema.Unordered:
		return "unordered"
	default:
		return "ordered"
	}
}

func totalBytes(buffers []model.QueryBuffer) int {
	n := 0
	for _, b := range buffers {
		n += len(b.Values) + len(b.Offsets) + len(b.Validity)
	}
	return n
}

// requireState fails fast if the Writer is not in want, instead of
// quietly doing the wrong thing.
func (w *Writer) requireState(want State) error {
	if w.state != want {
		return werrors.State("writer is in state " + w.state.String() + ", expected " + want.String())
	}
	return nil
}

// fail transitions to StateFailed and best-effort nukes the in-progress
// fragment, mirroring nuke_global_write_state + clean_up.
func (w *Writer) fail(ctx context.Context, handle storagemanager.FragmentHandle, cause error) error {
	if handle != nil {
		if abortErr := handle.Abort(ctx); abortErr != nil {
			w.logger.Warn("failed to abort fragment after error", zap.Error(abortErr))
		}
		if w.metrics != nil {
			w.metrics.RecordFragmentAborted()
		}
	}
	w.global = nil
	w.state = StateFailed
	w.recordState()
	w.logger.Error("write failed", zap.Error(cause))
	return cause
}

// commit transitions to StateCommitted and records the written fragment,
// if one was produced.
func (w *Writer) commit(info *model.WrittenFragmentInfo) {
	if info != nil {
		w.writtenFragments = append(w.writtenFragments, *info)
	}
	w.global = nil
	w.state = StateCommitted
	w.recordState()
}

// Reset returns the Writer to StateReady from StateCommitted or
// StateFailed, clearing all per-write state.
func (w *Writer) Reset() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != StateCommitted && w.state != StateFailed {
		return werrors.State("reset is only valid from committed or failed, got " + w.state.String())
	}
	w.global = nil
	w.subarray = nil
	w.boundBuffers = nil
	w.state = StateReady
	w.recordState()
	return nil
}

// bindAll runs buffer validation/normalization for every submitted
// buffer against the Writer's schema.
func (w *Writer) bindAll(buffers []model.QueryBuffer) (map[string]*model.NormalizedBuffer, uint64, error) {
	return buffer.NewBinder(w.schema).BindAndValidate(buffers)
}
