package hilbert_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devrev/arraydb/writer-node/internal/hilbert"
)

func TestEncode_Deterministic(t *testing.T) {
	point := []uint64{17, 42}
	a := hilbert.Encode(point)
	b := hilbert.Encode(point)
	assert.Equal(t, a, b)
}

func TestEncode_DoesNotMutateInput(t *testing.T) {
	point := []uint64{3, 9, 27}
	cp := append([]uint64{}, point...)
	hilbert.Encode(point)
	assert.Equal(t, cp, point)
}

func TestEncode_OriginMapsToZero(t *testing.T) {
	assert.Equal(t, uint64(0), hilbert.Encode([]uint64{0, 0}))
	assert.Equal(t, uint64(0), hilbert.Encode([]uint64{0, 0, 0}))
}

func TestEncode_DistinctPointsDistinctIndices(t *testing.T) {
	seen := make(map[uint64]bool)
	for x := uint64(0); x < 8; x++ {
		for y := uint64(0); y < 8; y++ {
			k := hilbert.Encode([]uint64{x << 29, y << 29})
			require.False(t, seen[k], "collision at (%d,%d)", x, y)
			seen[k] = true
		}
	}
}

func TestEncode_IsLocalityPreserving(t *testing.T) {
	// Adjacent cells on a fine grid should usually produce Hilbert indices
	// much closer together than cells picked at random, since that
	// locality is the entire point of using the curve for tiling.
	rng := rand.New(rand.NewSource(1))
	const gridBits = 10
	const scale = uint64(1) << (hilbert.Order - gridBits)

	var adjacentDeltaSum, randomDeltaSum uint64
	const trials = 200
	for i := 0; i < trials; i++ {
		x := uint64(rng.Intn(1 << gridBits))
		y := uint64(rng.Intn(1<<gridBits - 1))
		h1 := hilbert.Encode([]uint64{x * scale, y * scale})
		h2 := hilbert.Encode([]uint64{x * scale, (y + 1) * scale})
		adjacentDeltaSum += absDiff(h1, h2)

		x2 := uint64(rng.Intn(1 << gridBits))
		y2 := uint64(rng.Intn(1 << gridBits))
		h3 := hilbert.Encode([]uint64{x * scale, y * scale})
		h4 := hilbert.Encode([]uint64{x2 * scale, y2 * scale})
		randomDeltaSum += absDiff(h3, h4)
	}

	assert.Less(t, adjacentDeltaSum, randomDeltaSum)
}

func absDiff(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}

func TestLess_BreaksTiesByOriginalIndex(t *testing.T) {
	same := []uint64{5, 5}
	assert.True(t, hilbert.Less(same, same, 2, 7))
	assert.False(t, hilbert.Less(same, same, 7, 2))
}

func TestLess_OrdersByHilbertIndexWhenDifferent(t *testing.T) {
	a := []uint64{0, 0}
	b := []uint64{1 << 20, 1 << 20}
	got := hilbert.Less(a, b, 100, 0)
	want := hilbert.Encode(a) < hilbert.Encode(b)
	assert.Equal(t, want, got)
}
