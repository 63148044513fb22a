package tilebuilder_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devrev/arraydb/writer-node/internal/model"
	"github.com/devrev/arraydb/writer-node/internal/schema"
	"github.com/devrev/arraydb/writer-node/internal/tilebuilder"
)

func fixedBuffer(cells ...byte) *model.NormalizedBuffer {
	return &model.NormalizedBuffer{Values: cells, CellCount: uint64(len(cells))}
}

func TestBuilder_PrepareTiles_EmitsFullTilesAtCapacity(t *testing.T) {
	b := tilebuilder.NewBuilder(2)
	meta := tilebuilder.FieldMeta{CellSize: 1}
	nb := fixedBuffer(1, 2, 3, 4, 5)

	triples, err := b.PrepareTiles("v", meta, nb, []int{0, 1, 2, 3, 4})
	require.NoError(t, err)
	require.Len(t, triples, 2)
	assert.Equal(t, []byte{1, 2}, triples[0].Values.Data)
	assert.Equal(t, []byte{3, 4}, triples[1].Values.Data)
}

func TestBuilder_PartialTileCarriesAcrossCalls(t *testing.T) {
	b := tilebuilder.NewBuilder(3)
	meta := tilebuilder.FieldMeta{CellSize: 1}

	triples, err := b.PrepareTiles("v", meta, fixedBuffer(1, 2), []int{0, 1})
	require.NoError(t, err)
	assert.Empty(t, triples)
	assert.False(t, b.AllLastTilesEmpty())

	triples, err = b.PrepareTiles("v", meta, fixedBuffer(3, 4), []int{0})
	require.NoError(t, err)
	require.Len(t, triples, 1)
	assert.Equal(t, []byte{1, 2, 3}, triples[0].Values.Data)
}

func TestBuilder_Flush_ForcesOutShortTile(t *testing.T) {
	b := tilebuilder.NewBuilder(10)
	meta := tilebuilder.FieldMeta{CellSize: 1}

	_, err := b.PrepareTiles("v", meta, fixedBuffer(1, 2), []int{0, 1})
	require.NoError(t, err)

	last := b.Flush("v", meta)
	assert.False(t, last.Empty())
	assert.Equal(t, []byte{1, 2}, last.Values.Data)

	assert.True(t, b.Flush("v", meta).Empty())
}

func TestBuilder_AllLastTilesEmpty(t *testing.T) {
	b := tilebuilder.NewBuilder(10)
	assert.True(t, b.AllLastTilesEmpty())

	meta := tilebuilder.FieldMeta{CellSize: 1}
	_, err := b.PrepareTiles("v", meta, fixedBuffer(1), []int{0})
	require.NoError(t, err)
	assert.False(t, b.AllLastTilesEmpty())

	b.Flush("v", meta)
	assert.True(t, b.AllLastTilesEmpty())
}

func TestBuilder_Reset(t *testing.T) {
	b := tilebuilder.NewBuilder(10)
	meta := tilebuilder.FieldMeta{CellSize: 1}
	_, err := b.PrepareTiles("v", meta, fixedBuffer(1), []int{0})
	require.NoError(t, err)
	require.False(t, b.AllLastTilesEmpty())

	b.Reset()
	assert.True(t, b.AllLastTilesEmpty())
}

func TestBuilder_VarLengthTile(t *testing.T) {
	b := tilebuilder.NewBuilder(2)
	meta := tilebuilder.FieldMeta{VarLength: true}
	nb := &model.NormalizedBuffer{
		Values:    []byte("abcdef"),
		Offsets:   []uint64{0, 2, 4},
		CellCount: 3,
	}

	triples, err := b.PrepareTiles("v", meta, nb, []int{0, 1, 2})
	require.NoError(t, err)
	require.Len(t, triples, 1)
	assert.Equal(t, []byte("ab"), triples[0].Values.Data[0:2])
	require.NotNil(t, triples[0].Offsets)
	off0 := binary.LittleEndian.Uint64(triples[0].Offsets.Data[0:8])
	off1 := binary.LittleEndian.Uint64(triples[0].Offsets.Data[8:16])
	assert.Equal(t, uint64(0), off0)
	assert.Equal(t, uint64(2), off1)
}

func TestBuilder_NullableTileCarriesValidity(t *testing.T) {
	b := tilebuilder.NewBuilder(2)
	meta := tilebuilder.FieldMeta{CellSize: 1, Nullable: true}
	nb := &model.NormalizedBuffer{
		Values:    []byte{10, 20},
		Validity:  []byte{1, 0},
		CellCount: 2,
	}

	triples, err := b.PrepareTiles("v", meta, nb, []int{0, 1})
	require.NoError(t, err)
	require.Len(t, triples, 1)
	require.NotNil(t, triples[0].Validity)
	assert.Equal(t, []byte{1, 0}, triples[0].Validity.Data)
}

func TestDenseTiler_SlicesIntoFixedShapeTiles(t *testing.T) {
	dims := []schema.Dimension{{Name: "x", TileExtent: 4}}
	dt := tilebuilder.NewDenseTiler(dims, 0)
	meta := tilebuilder.FieldMeta{CellSize: 1}
	nb := &model.NormalizedBuffer{Values: []byte{1, 2, 3, 4, 5, 6, 7, 8}, CellCount: 8}

	tiles, err := dt.Tile(meta, nb)
	require.NoError(t, err)
	require.Len(t, tiles, 2)
	assert.Equal(t, []byte{1, 2, 3, 4}, tiles[0].Values.Data)
	assert.Equal(t, []byte{5, 6, 7, 8}, tiles[1].Values.Data)
}

func TestDenseTiler_PadsShortTrailingTileWithFillValue(t *testing.T) {
	dims := []schema.Dimension{{Name: "x", TileExtent: 4}}
	dt := tilebuilder.NewDenseTiler(dims, 0)
	meta := tilebuilder.FieldMeta{CellSize: 1, FillValue: []byte{0xFF}}
	nb := &model.NormalizedBuffer{Values: []byte{1, 2, 3}, CellCount: 3}

	tiles, err := dt.Tile(meta, nb)
	require.NoError(t, err)
	require.Len(t, tiles, 1)
	assert.Equal(t, []byte{1, 2, 3, 0xFF}, tiles[0].Values.Data)
}

func TestDenseTiler_NullablePadsInvalidValidityForOutOfSubarrayCells(t *testing.T) {
	dims := []schema.Dimension{{Name: "x", TileExtent: 4}}
	dt := tilebuilder.NewDenseTiler(dims, 0)
	meta := tilebuilder.FieldMeta{CellSize: 1, Nullable: true}
	nb := &model.NormalizedBuffer{
		Values:    []byte{1, 2, 3},
		Validity:  []byte{1, 1, 0},
		CellCount: 3,
	}

	tiles, err := dt.Tile(meta, nb)
	require.NoError(t, err)
	require.Len(t, tiles, 1)
	require.NotNil(t, tiles[0].Validity)
	// real cells keep their bound validity; the padded trailing slot is null.
	assert.Equal(t, []byte{1, 1, 0, 0}, tiles[0].Validity.Data)
}

func TestDenseTiler_VarLengthPadsZeroLengthEntriesForOutOfSubarrayCells(t *testing.T) {
	dims := []schema.Dimension{{Name: "x", TileExtent: 4}}
	dt := tilebuilder.NewDenseTiler(dims, 0)
	meta := tilebuilder.FieldMeta{VarLength: true}
	nb := &model.NormalizedBuffer{
		Values:    []byte("aabb"),
		Offsets:   []uint64{0, 2},
		CellCount: 2,
	}

	tiles, err := dt.Tile(meta, nb)
	require.NoError(t, err)
	require.Len(t, tiles, 1)
	require.NotNil(t, tiles[0].Offsets)
	assert.Equal(t, []byte("aabb"), tiles[0].Values.Data)

	off := func(i int) uint64 {
		return binary.LittleEndian.Uint64(tiles[0].Offsets.Data[i*8 : i*8+8])
	}
	assert.Equal(t, uint64(0), off(0))
	assert.Equal(t, uint64(2), off(1))
	// padded slots point past the last real byte with nothing to read.
	assert.Equal(t, uint64(4), off(2))
	assert.Equal(t, uint64(4), off(3))
}

func TestDenseTiler_VarLengthNullablePadsBothOffsetsAndValidity(t *testing.T) {
	dims := []schema.Dimension{{Name: "x", TileExtent: 4}}
	dt := tilebuilder.NewDenseTiler(dims, 2)
	meta := tilebuilder.FieldMeta{VarLength: true, Nullable: true}
	nb := &model.NormalizedBuffer{
		Values:    []byte("ab"),
		Offsets:   []uint64{0, 1},
		Validity:  []byte{1, 0},
		CellCount: 2,
	}

	tiles, err := dt.Tile(meta, nb)
	require.NoError(t, err)
	require.Len(t, tiles, 1)
	require.NotNil(t, tiles[0].Offsets)
	require.NotNil(t, tiles[0].Validity)
	assert.Equal(t, []byte("ab"), tiles[0].Values.Data)
	// leading pad (startCell=2 within a 4-wide tile) covers slots 0 and 1.
	assert.Equal(t, []byte{0, 0, 1, 0}, tiles[0].Validity.Data)
}

func TestDenseTiler_StartCellPadsLeadingPartialTile(t *testing.T) {
	dims := []schema.Dimension{{Name: "x", TileExtent: 4}}
	// A subarray beginning at global cell 2 within a tile-extent-4 grid:
	// the first tile covers global cells [0,4), so the first 2 slots are
	// outside the subarray and must be padded.
	dt := tilebuilder.NewDenseTiler(dims, 2)
	meta := tilebuilder.FieldMeta{CellSize: 1, FillValue: []byte{0xFF}}
	nb := &model.NormalizedBuffer{Values: []byte{1, 2}, CellCount: 2}

	tiles, err := dt.Tile(meta, nb)
	require.NoError(t, err)
	require.Len(t, tiles, 1)
	assert.Equal(t, []byte{0xFF, 0xFF, 1, 2}, tiles[0].Values.Data)
}

func TestDenseTiler_StartCellRealignsSubsequentTilesToGrid(t *testing.T) {
	dims := []schema.Dimension{{Name: "x", TileExtent: 4}}
	dt := tilebuilder.NewDenseTiler(dims, 2)
	meta := tilebuilder.FieldMeta{CellSize: 1, FillValue: []byte{0xFF}}
	// 6 cells starting at global offset 2: fills out tile 0's last 2
	// slots, then a full second tile, with nothing left over.
	nb := &model.NormalizedBuffer{Values: []byte{1, 2, 3, 4, 5, 6}, CellCount: 6}

	tiles, err := dt.Tile(meta, nb)
	require.NoError(t, err)
	require.Len(t, tiles, 2)
	assert.Equal(t, []byte{0xFF, 0xFF, 1, 2}, tiles[0].Values.Data)
	assert.Equal(t, []byte{3, 4, 5, 6}, tiles[1].Values.Data)
}

func TestDenseTiler_CellsPerTileMultipliesAcrossDimensions(t *testing.T) {
	dims := []schema.Dimension{{Name: "x", TileExtent: 2}, {Name: "y", TileExtent: 3}}
	dt := tilebuilder.NewDenseTiler(dims, 0)
	meta := tilebuilder.FieldMeta{CellSize: 1}
	nb := &model.NormalizedBuffer{Values: make([]byte, 6), CellCount: 6}

	tiles, err := dt.Tile(meta, nb)
	require.NoError(t, err)
	require.Len(t, tiles, 1)
	assert.Len(t, tiles[0].Values.Data, 6)
}
