package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	werrors "github.com/devrev/arraydb/writer-node/internal/errors"
	"github.com/devrev/arraydb/writer-node/internal/storagemanager"
)

// Backend is the filesystem storage.Backend. It wraps a DiskManager for
// write admission and creates one directory per fragment underneath
// rootDir, grounded on the teacher's SSTableWriter: one os.File per
// region, appended to directly, synced and closed on commit.
type Backend struct {
	rootDir string
	disk    *DiskManager
	logger  *zap.Logger
}

func NewBackend(rootDir string, disk *DiskManager, logger *zap.Logger) *Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backend{rootDir: rootDir, disk: disk, logger: logger}
}

func (b *Backend) CheckAdmission(ctx context.Context, estimatedBytes uint64) error {
	if err := b.disk.CheckBeforeWrite(estimatedBytes); err != nil {
		return werrors.Storage("fragment write refused by disk admission", err).
			WithDetail("estimated_bytes", estimatedBytes)
	}
	return nil
}

func (b *Backend) Create(ctx context.Context, uri string) (storagemanager.FragmentHandle, error) {
	dir := filepath.Join(b.rootDir, uri)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create fragment directory: %w", err)
	}
	return &handle{dir: dir, uri: uri, files: make(map[string]*os.File), offsets: make(map[string]uint64), logger: b.logger}, nil
}

func (b *Backend) Delete(ctx context.Context, uri string) error {
	dir := filepath.Join(b.rootDir, uri)
	if err := os.RemoveAll(dir); err != nil {
		b.logger.Warn("failed to clean up fragment directory", zap.String("dir", dir), zap.Error(err))
		return err
	}
	return nil
}

type handle struct {
	dir     string
	uri     string
	files   map[string]*os.File
	offsets map[string]uint64
	footer  *os.File
	logger  *zap.Logger
}

func (h *handle) URI() string { return h.uri }

func (h *handle) fileFor(name string) (*os.File, error) {
	if f, ok := h.files[name]; ok {
		return f, nil
	}
	f, err := os.Create(filepath.Join(h.dir, name))
	if err != nil {
		return nil, fmt.Errorf("failed to create fragment file %s: %w", name, err)
	}
	h.files[name] = f
	return f, nil
}

func (h *handle) WriteTile(field string, kind storagemanager.TileKind, data []byte) (uint64, error) {
	name := kind.FileName(field)
	f, err := h.fileFor(name)
	if err != nil {
		return 0, err
	}
	offset := h.offsets[name]
	n, err := f.Write(data)
	if err != nil {
		return 0, fmt.Errorf("failed to write tile to %s: %w", name, err)
	}
	h.offsets[name] = offset + uint64(n)
	return offset, nil
}

func (h *handle) WriteFooter(data []byte) error {
	f, err := os.Create(filepath.Join(h.dir, storagemanager.FooterFileName))
	if err != nil {
		return fmt.Errorf("failed to create fragment footer: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write fragment footer: %w", err)
	}
	h.footer = f
	return nil
}

func (h *handle) Commit(ctx context.Context) error {
	for name, f := range h.files {
		if err := f.Sync(); err != nil {
			return fmt.Errorf("failed to sync %s: %w", name, err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("failed to close %s: %w", name, err)
		}
	}
	if h.footer != nil {
		if err := h.footer.Sync(); err != nil {
			return fmt.Errorf("failed to sync fragment footer: %w", err)
		}
		if err := h.footer.Close(); err != nil {
			return fmt.Errorf("failed to close fragment footer: %w", err)
		}
	}

	ok, err := os.Create(filepath.Join(h.dir, storagemanager.OKMarkerName))
	if err != nil {
		return fmt.Errorf("failed to create ok marker: %w", err)
	}
	if err := ok.Close(); err != nil {
		return fmt.Errorf("failed to close ok marker: %w", err)
	}
	return nil
}

func (h *handle) Abort(ctx context.Context) error {
	for _, f := range h.files {
		f.Close()
	}
	if h.footer != nil {
		h.footer.Close()
	}
	if err := os.RemoveAll(h.dir); err != nil {
		h.logger.Warn("failed to clean up aborted fragment", zap.String("dir", h.dir), zap.Error(err))
		return err
	}
	return nil
}
