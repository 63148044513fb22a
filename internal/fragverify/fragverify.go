// Package fragverify is a minimal, test-only fragment reader used to
// assert durability and atomicity: whether a fragment committed, and
// whether its footer and tile files round-trip the bytes the Writer
// wrote. It is never imported by internal/writer.
package fragverify

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/devrev/arraydb/writer-node/internal/fragmeta"
	"github.com/devrev/arraydb/writer-node/internal/storagemanager"
)

// Reader reads back a fragment written by the local storage backend.
type Reader struct {
	dir string
}

// Open returns a Reader over the fragment directory at dir. It does not
// itself require the fragment to be committed.
func Open(dir string) *Reader {
	return &Reader{dir: dir}
}

// Committed reports whether the fragment's "ok" marker exists, mirroring
// the durability contract: a fragment is visible only once Commit has
// created this marker.
func (r *Reader) Committed() bool {
	_, err := os.Stat(filepath.Join(r.dir, storagemanager.OKMarkerName))
	return err == nil
}

// ReadTile reads the whole on-disk region for field's kind. The local
// backend writes one tile region as a single growing file rather than an
// indexed table, so unlike the teacher's SSTable reader this needs no
// index lookup: the whole file is the concatenation of every tile
// written to that region, in write order.
func (r *Reader) ReadTile(field string, kind storagemanager.TileKind) ([]byte, error) {
	path := filepath.Join(r.dir, kind.FileName(field))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tile region %s: %w", path, err)
	}
	return data, nil
}

// ReadFooter reads and decodes the fragment's metadata footer.
func (r *Reader) ReadFooter() (*fragmeta.Footer, error) {
	path := filepath.Join(r.dir, storagemanager.FooterFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read footer %s: %w", path, err)
	}
	return fragmeta.Decode(data)
}

// ReadTileAt returns the bytes of one recorded tile entry, by slicing its
// region file at the recorded offset/length, for comparing a specific
// written tile against the bytes a test submitted.
func (r *Reader) ReadTileAt(entry fragmeta.TileOffsetEntry) ([]byte, error) {
	region, err := r.ReadTile(entry.Field, entry.Kind)
	if err != nil {
		return nil, err
	}
	end := entry.Offset + entry.Length
	if end > uint64(len(region)) {
		return nil, fmt.Errorf("tile offset entry out of range: %d+%d > %d", entry.Offset, entry.Length, len(region))
	}
	return region[entry.Offset:end], nil
}
