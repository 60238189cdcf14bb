// Package vecx holds vector math for in-process similarity ranking.
package vecx

import "math"

// Cosine returns the cosine similarity of a and b over their common length.
// A zero-magnitude input scores 0.
func Cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := 0; i < len(a) && i < len(b); i++ {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	d := math.Sqrt(na) * math.Sqrt(nb)
	if d == 0 {
		return 0
	}
	return dot / d
}
