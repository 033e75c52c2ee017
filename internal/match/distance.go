package match

import (
	"errors"
	"fmt"
	"math"
)

// ErrDimensionMismatch is returned when two embeddings of different
// lengths are compared. A mismatch is never truncated away.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// EuclideanDistance computes the L2 distance between two embeddings.
// Lower distance means more similar faces.
func EuclideanDistance(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	var sum float64
	for i := range a {
		diff := float64(a[i]) - float64(b[i])
		sum += diff * diff
	}
	return math.Sqrt(sum), nil
}
