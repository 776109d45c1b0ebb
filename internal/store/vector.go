// Package store holds helpers shared by the storage backends.
package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrDimensionMismatch is returned when two vectors of different sizes are compared.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// EncodeVector packs vec as little-endian float32 values without a header.
func EncodeVector(vec []float32) ([]byte, error) {
	if len(vec) == 0 {
		return nil, fmt.Errorf("encode vector: empty vector")
	}
	blob := make([]byte, len(vec)*4)
	for i, v := range vec {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, fmt.Errorf("encode vector: invalid value at index %d", i)
		}
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob, nil
}

// DecodeVector reverses EncodeVector.
func DecodeVector(blob []byte) ([]float32, error) {
	if len(blob) == 0 || len(blob)%4 != 0 {
		return nil, fmt.Errorf("decode vector: invalid blob length %d", len(blob))
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec, nil
}

// CosineSimilarity returns the cosine of the angle between a and b. Zero
// vectors have similarity 0.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("cosine similarity: %w (%d vs %d)", ErrDimensionMismatch, len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}
