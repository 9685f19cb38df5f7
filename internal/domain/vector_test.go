package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorRoundTrip(t *testing.T) {
	original := []float32{0.1, -0.2, 3.14159, 0, -1, 1e10}

	blob := EncodeVector(original)
	decoded, err := DecodeVector(blob)
	require.NoError(t, err)

	assert.Equal(t, original, decoded)
}

func TestDecodeVectorRejectsMisalignedBlob(t *testing.T) {
	_, err := DecodeVector([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestCosineDistanceIdentical(t *testing.T) {
	v := []float32{1, 2, 3}
	assert.InDelta(t, 0, CosineDistance(v, v), 1e-6)
}

func TestCosineDistanceOrthogonal(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}
	assert.InDelta(t, 1, CosineDistance(a, b), 1e-6)
}

func TestCosineDistanceNeutralOnEmpty(t *testing.T) {
	assert.Equal(t, 1.0, CosineDistance(nil, []float32{1, 2}))
	assert.Equal(t, 1.0, CosineDistance([]float32{1}, []float32{1, 2}))
}
