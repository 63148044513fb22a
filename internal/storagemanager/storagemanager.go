// Package storagemanager defines the storage backend contract fragments
// are written through: create a fragment directory, append per-field
// tiles to it, write the footer, and atomically commit by creating the
// fragment's "ok" marker — or abort and recursively delete everything
// written so far.
package storagemanager

import "context"

// TileKind names which of a field's up-to-three files a tile belongs to.
type TileKind int

const (
	TileValues TileKind = iota
	TileOffsets
	TileValidity
)

func (k TileKind) suffix() string {
	switch k {
	case TileOffsets:
		return "_var"
	case TileValidity:
		return "_validity"
	default:
		return ""
	}
}

// FileName returns the fragment-relative file name for field's TileKind
// region, matching the original's <name>.tdb / <name>_var.tdb /
// <name>_validity.tdb convention.
func (k TileKind) FileName(field string) string {
	return field + k.suffix() + ".tdb"
}

const (
	FooterFileName = "__fragment_metadata.tdb"
	OKMarkerName   = "__ok"
)

// Backend is the storage contract a fragment is written through.
type Backend interface {
	// CheckAdmission verifies estimatedBytes can be written before any
	// tile is flushed.
	CheckAdmission(ctx context.Context, estimatedBytes uint64) error

	// Create begins a new fragment at uri. The fragment is not visible
	// to readers (no __ok marker) until Commit succeeds.
	Create(ctx context.Context, uri string) (FragmentHandle, error)

	// Delete recursively and best-effort removes everything under uri.
	// Used both to abort a failed fragment and to nuke an entire array.
	Delete(ctx context.Context, uri string) error
}

// FragmentHandle is an open fragment being written.
type FragmentHandle interface {
	// WriteTile appends data as the next tile of field's region and
	// returns the byte offset it was written at, for the fragment
	// metadata accumulator's per-tile offset table.
	WriteTile(field string, kind TileKind, data []byte) (uint64, error)

	// WriteFooter writes the fragment metadata footer.
	WriteFooter(data []byte) error

	// Commit flushes and syncs every open file, then creates the "ok"
	// marker that makes the fragment durable and visible.
	Commit(ctx context.Context) error

	// Abort closes every open file without creating the "ok" marker and
	// removes the fragment directory.
	Abort(ctx context.Context) error

	// URI returns the fragment's location.
	URI() string
}
