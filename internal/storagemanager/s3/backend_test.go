package s3_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devrev/arraydb/writer-node/internal/storagemanager"
	"github.com/devrev/arraydb/writer-node/internal/storagemanager/s3"
)

// CheckAdmission and tile buffering are exercised without a live AWS
// endpoint: everything up to Commit's upload calls touches only the
// in-memory buffers, which is what these tests cover. Commit itself
// requires a reachable S3 endpoint and is exercised in integration
// environments, not here.
func TestBackend_CheckAdmissionIsAlwaysANoOp(t *testing.T) {
	backend := s3.NewBackend(nil, "bucket", "prefix")
	err := backend.CheckAdmission(context.Background(), 1<<30)
	assert.NoError(t, err)
}

func TestFragmentHandle_BuffersTilesBeforeUpload(t *testing.T) {
	backend := s3.NewBackend(nil, "bucket", "prefix")
	handle, err := backend.Create(context.Background(), "frag-1")
	require.NoError(t, err)

	off, err := handle.WriteTile("attr", storagemanager.TileValues, []byte("abc"))
	require.NoError(t, err)
	assert.EqualValues(t, 0, off)

	off2, err := handle.WriteTile("attr", storagemanager.TileValues, []byte("de"))
	require.NoError(t, err)
	assert.EqualValues(t, 3, off2)

	assert.Equal(t, "frag-1", handle.URI())
}
