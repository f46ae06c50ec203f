package cluster

import (
	"gonum.org/v1/gonum/floats"

	"github.com/dshills/complaintlens/internal/storage"
)

// splitByDimension keeps the complaints whose embedding has the most common length.
// Ties go to the larger dimension. Mixed lengths happen when some complaints were
// embedded by the fallback provider.
func splitByDimension(complaints []*storage.Complaint) (kept, excluded []*storage.Complaint, dim int) {
	counts := make(map[int]int)
	for _, c := range complaints {
		counts[len(c.Embedding)]++
	}
	best := 0
	for d, n := range counts {
		if d == 0 {
			continue
		}
		if n > best || (n == best && d > dim) {
			best, dim = n, d
		}
	}
	for _, c := range complaints {
		if len(c.Embedding) == dim && dim > 0 {
			kept = append(kept, c)
		} else {
			excluded = append(excluded, c)
		}
	}
	return kept, excluded, dim
}

// toMatrix converts embeddings to float64 rows, L2-normalised when normalize is set
func toMatrix(complaints []*storage.Complaint, normalize bool) [][]float64 {
	rows := make([][]float64, len(complaints))
	for i, c := range complaints {
		row := make([]float64, len(c.Embedding))
		for j, v := range c.Embedding {
			row[j] = float64(v)
		}
		if normalize {
			if n := floats.Norm(row, 2); n > 0 {
				floats.Scale(1/n, row)
			}
		}
		rows[i] = row
	}
	return rows
}

// cosineDistance assumes unit-length inputs
func cosineDistance(a, b []float64) float64 {
	d := 1 - floats.Dot(a, b)
	if d < 0 {
		return 0
	}
	return d
}
