package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/devrev/arraydb/writer-node/internal/fragverify"
	"github.com/devrev/arraydb/writer-node/internal/storagemanager"
	"github.com/devrev/arraydb/writer-node/internal/storagemanager/local"
)

func newBackend(t *testing.T) (*local.Backend, string) {
	t.Helper()
	root := t.TempDir()
	disk, err := local.NewDiskManager(&local.DiskManagerConfig{
		DataDir:                 root,
		WarningThreshold:        80,
		ThrottleThreshold:       90,
		CircuitBreakerThreshold: 99.99,
	}, zap.NewNop())
	require.NoError(t, err)
	return local.NewBackend(root, disk, zap.NewNop()), root
}

func TestBackend_CommitCreatesOKMarkerAndWritesTilesAtomically(t *testing.T) {
	backend, root := newBackend(t)
	ctx := context.Background()

	handle, err := backend.Create(ctx, "frag-1")
	require.NoError(t, err)

	off, err := handle.WriteTile("attr", storagemanager.TileValues, []byte("hello"))
	require.NoError(t, err)
	assert.EqualValues(t, 0, off)

	off2, err := handle.WriteTile("attr", storagemanager.TileValues, []byte("world"))
	require.NoError(t, err)
	assert.EqualValues(t, 5, off2)

	require.NoError(t, handle.WriteFooter([]byte("footer-bytes")))

	reader := fragverify.Open(filepath.Join(root, "frag-1"))
	assert.False(t, reader.Committed(), "must not be visible before Commit")

	require.NoError(t, handle.Commit(ctx))
	assert.True(t, reader.Committed())

	data, err := reader.ReadTile("attr", storagemanager.TileValues)
	require.NoError(t, err)
	assert.Equal(t, "helloworld", string(data))
}

func TestBackend_AbortLeavesNoFragmentDirectory(t *testing.T) {
	backend, root := newBackend(t)
	ctx := context.Background()

	handle, err := backend.Create(ctx, "frag-aborted")
	require.NoError(t, err)
	_, err = handle.WriteTile("attr", storagemanager.TileValues, []byte("partial"))
	require.NoError(t, err)

	require.NoError(t, handle.Abort(ctx))

	_, statErr := os.Stat(filepath.Join(root, "frag-aborted"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestBackend_DeleteRemovesCommittedFragment(t *testing.T) {
	backend, root := newBackend(t)
	ctx := context.Background()

	handle, err := backend.Create(ctx, "frag-del")
	require.NoError(t, err)
	require.NoError(t, handle.WriteFooter([]byte("f")))
	require.NoError(t, handle.Commit(ctx))

	require.NoError(t, backend.Delete(ctx, "frag-del"))
	_, statErr := os.Stat(filepath.Join(root, "frag-del"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestBackend_CheckAdmission_RejectsWhenCircuitBroken(t *testing.T) {
	root := t.TempDir()
	disk, err := local.NewDiskManager(&local.DiskManagerConfig{
		DataDir:                 root,
		WarningThreshold:        0,
		ThrottleThreshold:       0,
		CircuitBreakerThreshold: 0, // any usage at all trips the breaker
	}, zap.NewNop())
	require.NoError(t, err)
	backend := local.NewBackend(root, disk, zap.NewNop())

	err = backend.CheckAdmission(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, local.IsCircuitBroken(err))
}

func TestFragmentHandle_FooterRoundTripsThroughFragverify(t *testing.T) {
	backend, root := newBackend(t)
	ctx := context.Background()

	handle, err := backend.Create(ctx, "frag-footer")
	require.NoError(t, err)
	footerBytes := []byte{1, 2, 3, 4}
	require.NoError(t, handle.WriteFooter(footerBytes))
	require.NoError(t, handle.Commit(ctx))

	_ = root
	_, err = fragverify.Open(filepath.Join(root, "frag-footer")).ReadFooter()
	// footerBytes above is not a valid encoded footer, so Decode is
	// expected to fail; this exercises the read path end to end without
	// asserting on fragmeta's own encoding, which fragmeta_test.go covers.
	assert.Error(t, err)
}
