package domain

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// EncodeVector concatenates a float32 slice into a little-endian blob,
// the on-disk representation for ArticleVector and UserVector columns.
func EncodeVector(v []float32) []byte {
	if v == nil {
		return nil
	}
	buf := new(bytes.Buffer)
	buf.Grow(len(v) * 4)
	for _, f := range v {
		// binary.Write never fails for fixed-size numeric types into a bytes.Buffer.
		_ = binary.Write(buf, binary.LittleEndian, f)
	}
	return buf.Bytes()
}

// DecodeVector reverses EncodeVector. It errors if the blob length is not a
// multiple of 4 bytes (one float32 each).
func DecodeVector(data []byte) ([]float32, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(data))
	}
	out := make([]float32, len(data)/4)
	r := bytes.NewReader(data)
	for i := range out {
		if err := binary.Read(r, binary.LittleEndian, &out[i]); err != nil {
			return nil, fmt.Errorf("decode vector: %w", err)
		}
	}
	return out, nil
}

// CosineDistance returns 1 - cosine_similarity(a, b), in [0, 2]. Mismatched
// or empty vectors return a distance of 1 (similarity 0). The digest
// assembler does not score absent vectors through this distance: it uses a
// fixed neutral semantic score of 0.5 instead.
func CosineDistance(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 1
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	cos := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if cos > 1 {
		cos = 1
	} else if cos < -1 {
		cos = -1
	}
	return 1 - cos
}
