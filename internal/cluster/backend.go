package cluster

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/mpraski/clusters"
)

// Noise is the label of points that belong to no cluster
const Noise = -1

// Algorithms
const (
	AlgorithmDBSCAN = "dbscan"
	AlgorithmKMeans = "kmeans"
)

// Metrics
const (
	MetricCosine    = "cosine"
	MetricEuclidean = "euclidean"
)

const kmeansIterations = 300

// ErrUnknownAlgorithm is returned for an unsupported algorithm or metric
var ErrUnknownAlgorithm = errors.New("unknown clustering algorithm")

// Params selects and tunes a clustering backend
type Params struct {
	Algorithm    string
	Eps          float64
	MinSamples   int
	NClusters    int
	AutoClusters bool
	Metric       string
}

// DefaultParams mirrors the DBSCAN defaults
func DefaultParams() Params {
	return Params{
		Algorithm:  AlgorithmDBSCAN,
		Eps:        0.5,
		MinSamples: 5,
		Metric:     MetricCosine,
	}
}

// Backend assigns one label per row; Noise marks unclustered rows
type Backend interface {
	Cluster(rows [][]float64) ([]int, error)
	Name() string
}

// NewBackend builds the backend described by p
func NewBackend(p Params) (Backend, error) {
	var distance clusters.DistanceFunc
	switch strings.ToLower(p.Metric) {
	case "", MetricCosine:
		distance = cosineDistance
	case MetricEuclidean:
		distance = clusters.EuclideanDistance
	default:
		return nil, fmt.Errorf("%w: metric %q", ErrUnknownAlgorithm, p.Metric)
	}

	switch strings.ToLower(p.Algorithm) {
	case "", AlgorithmDBSCAN:
		if p.Eps <= 0 || p.MinSamples <= 0 {
			return nil, fmt.Errorf("dbscan needs positive eps and min_samples, got %v and %d", p.Eps, p.MinSamples)
		}
		return &dbscanBackend{eps: p.Eps, minPts: p.MinSamples, distance: distance}, nil
	case AlgorithmKMeans:
		if !p.AutoClusters && p.NClusters <= 0 {
			return nil, fmt.Errorf("kmeans needs n_clusters or auto_clusters")
		}
		return &kmeansBackend{k: p.NClusters, auto: p.AutoClusters, distance: distance}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, p.Algorithm)
	}
}

type dbscanBackend struct {
	eps      float64
	minPts   int
	distance clusters.DistanceFunc
}

func (b *dbscanBackend) Name() string { return AlgorithmDBSCAN }

func (b *dbscanBackend) Cluster(rows [][]float64) ([]int, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("dbscan: no rows to cluster")
	}
	// One worker: with more the library can hand out more range jobs than
	// it waits for on large inputs.
	c, err := clusters.DBSCAN(b.minPts, b.eps, 1, b.distance)
	if err != nil {
		return nil, fmt.Errorf("dbscan: %w", err)
	}
	// The neighbour scan never reaches the last row, so a NaN row that is
	// nobody's neighbour goes last and its label is dropped.
	padded := make([][]float64, len(rows), len(rows)+1)
	copy(padded, rows)
	padded = append(padded, nanRow(len(rows[0])))
	if err := c.Learn(padded); err != nil {
		return nil, fmt.Errorf("dbscan: %w", err)
	}
	return normalizeLabels(c.Guesses()[:len(rows)]), nil
}

func nanRow(dim int) []float64 {
	row := make([]float64, dim)
	for i := range row {
		row[i] = math.NaN()
	}
	return row
}

type kmeansBackend struct {
	k        int
	auto     bool
	distance clusters.DistanceFunc
}

func (b *kmeansBackend) Name() string { return AlgorithmKMeans }

func (b *kmeansBackend) Cluster(rows [][]float64) ([]int, error) {
	k := b.k
	if b.auto {
		k = autoK(len(rows))
	}
	k = min(k, len(rows))
	if k < 1 {
		return nil, fmt.Errorf("kmeans: no rows to cluster")
	}
	if k == 1 {
		// the library needs at least two clusters
		return make([]int, len(rows)), nil
	}

	c, err := clusters.KMeans(kmeansIterations, k, b.distance)
	if err != nil {
		return nil, fmt.Errorf("kmeans: %w", err)
	}
	if err := c.Learn(rows); err != nil {
		return nil, fmt.Errorf("kmeans: %w", err)
	}
	return normalizeLabels(c.Guesses()), nil
}

// autoK is the sqrt(n/2) rule of thumb, kept within [2, 20]
func autoK(n int) int {
	k := int(math.Round(math.Sqrt(float64(n) / 2)))
	return max(2, min(k, 20))
}

// normalizeLabels maps negative labels to Noise and renumbers the rest densely
// from 0 in ascending order of the original label.
func normalizeLabels(raw []int) []int {
	var distinct []int
	seen := make(map[int]bool)
	for _, l := range raw {
		if l >= 0 && !seen[l] {
			seen[l] = true
			distinct = append(distinct, l)
		}
	}
	sort.Ints(distinct)
	remap := make(map[int]int, len(distinct))
	for i, l := range distinct {
		remap[l] = i
	}

	out := make([]int, len(raw))
	for i, l := range raw {
		if l < 0 {
			out[i] = Noise
			continue
		}
		out[i] = remap[l]
	}
	return out
}
