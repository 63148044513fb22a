package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devrev/arraydb/writer-node/internal/config"
	"github.com/devrev/arraydb/writer-node/internal/model"
)

func TestDefault_AppliesEveryDefaultAndValidates(t *testing.T) {
	cfg := config.Default()

	assert.Equal(t, "writer-0", cfg.NodeID)
	assert.True(t, cfg.Write.CheckCoordDups)
	assert.False(t, cfg.Write.DedupCoords)
	assert.True(t, cfg.Write.CheckCoordOOB)
	assert.Equal(t, model.OffsetsBytes, cfg.Write.OffsetsFormat)
	assert.Equal(t, model.Bitsize64, cfg.Write.OffsetsBitsize)
	assert.Equal(t, 4, cfg.Worker.ThreadNum)
	assert.Equal(t, "local", cfg.Storage.Kind)
	assert.Equal(t, []config.FilterConfig{{Name: "checksum-crc32"}}, cfg.Filters)
	assert.Equal(t, 8088, cfg.Server.Port)

	require.NoError(t, cfg.Validate())
}

func TestLoadConfig_ParsesYAMLAndFillsInDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "writer.yaml")
	yamlBody := `
node_id: node-7
storage:
  kind: s3
  s3:
    bucket: mybucket
    prefix: frags
worker:
  thread_num: 8
`
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o644))

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "node-7", cfg.NodeID)
	assert.Equal(t, "s3", cfg.Storage.Kind)
	assert.Equal(t, "mybucket", cfg.Storage.S3.Bucket)
	assert.Equal(t, 8, cfg.Worker.ThreadNum)
	// untouched fields still get their defaults
	assert.True(t, cfg.Write.CheckCoordDups)
	assert.Equal(t, 8088, cfg.Server.Port)
}

func TestLoadConfig_MissingFileReturnsError(t *testing.T) {
	_, err := config.LoadConfig(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.Error(t, err)
}

func TestLoadConfig_MalformedYAMLReturnsError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not: [valid: yaml"), 0o644))

	_, err := config.LoadConfig(path)
	require.Error(t, err)
}

func TestLoadConfig_InvalidConfigAfterDefaultsReturnsError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad-storage.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  kind: gcs\n"), 0o644))

	_, err := config.LoadConfig(path)
	require.Error(t, err)
}

func TestValidate_RejectsMutuallyExclusiveDedupSettings(t *testing.T) {
	cfg := config.Default()
	cfg.Write.CheckCoordDups = true
	cfg.Write.DedupCoords = true
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsUnknownStorageKind(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Kind = "gcs"
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsS3WithoutBucket(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Kind = "s3"
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsOutOfRangePort(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Port = 70000
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsInvalidOffsetsBitsize(t *testing.T) {
	cfg := config.Default()
	cfg.Write.OffsetsBitsize = 16
	assert.Error(t, cfg.Validate())
}
