package model

import (
	"math/rand"
	"sort"
	"time"
)

// RegressionTree is a CART regression tree splitting on squared-error
// reduction. Leaves predict the mean target of their samples.
type RegressionTree struct {
	MaxDepth        int // 0 = unlimited
	MinSamplesSplit int
	MaxFeatures     int // 0 = consider all features at each split
	Seed            int64

	root      *treeNode
	nFeatures int
	fitted    bool
}

type treeNode struct {
	feature   int
	threshold float64
	value     float64
	left      *treeNode
	right     *treeNode
}

// NewRegressionTree creates a tree with the given depth cap and minimum
// node size.
func NewRegressionTree(maxDepth, minSamplesSplit int) *RegressionTree {
	if minSamplesSplit < 2 {
		minSamplesSplit = 2
	}
	return &RegressionTree{MaxDepth: maxDepth, MinSamplesSplit: minSamplesSplit}
}

func (m *RegressionTree) Name() string { return "tree" }

func (m *RegressionTree) Params() map[string]float64 {
	return map[string]float64{
		"max_depth":         float64(m.MaxDepth),
		"min_samples_split": float64(m.MinSamplesSplit),
	}
}

func (m *RegressionTree) Fit(X [][]float64, y []float64) error {
	d, err := validateTraining(X, y)
	if err != nil {
		return err
	}
	seed := m.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	idx := make([]int, len(X))
	for i := range idx {
		idx[i] = i
	}
	m.nFeatures = d
	m.root = m.build(X, y, idx, 0, rng)
	m.fitted = true
	return nil
}

func (m *RegressionTree) build(X [][]float64, y []float64, idx []int, depth int, rng *rand.Rand) *treeNode {
	node := &treeNode{value: meanAt(y, idx)}
	if len(idx) < m.MinSamplesSplit {
		return node
	}
	if m.MaxDepth > 0 && depth >= m.MaxDepth {
		return node
	}

	feature, threshold, ok := m.bestSplit(X, y, idx, rng)
	if !ok {
		return node
	}

	var left, right []int
	for _, i := range idx {
		if X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return node
	}

	node.feature = feature
	node.threshold = threshold
	node.left = m.build(X, y, left, depth+1, rng)
	node.right = m.build(X, y, right, depth+1, rng)
	return node
}

// bestSplit sweeps each candidate feature in sorted order with running sums,
// scoring splits by the summed squared error of the two children.
func (m *RegressionTree) bestSplit(X [][]float64, y []float64, idx []int, rng *rand.Rand) (feature int, threshold float64, ok bool) {
	n := len(idx)
	d := m.nFeatures

	candidates := make([]int, d)
	for j := range candidates {
		candidates[j] = j
	}
	if m.MaxFeatures > 0 && m.MaxFeatures < d {
		rng.Shuffle(d, func(a, b int) { candidates[a], candidates[b] = candidates[b], candidates[a] })
		candidates = candidates[:m.MaxFeatures]
	}

	total, total2 := 0.0, 0.0
	for _, i := range idx {
		total += y[i]
		total2 += y[i] * y[i]
	}
	bestScore := total2 - total*total/float64(n) // parent SSE; require improvement
	if bestScore <= 0 {
		return 0, 0, false // pure node
	}

	sorted := make([]int, n)
	for _, f := range candidates {
		copy(sorted, idx)
		sortByFeature(X, sorted, f)

		sumL, sum2L := 0.0, 0.0
		for k := 1; k < n; k++ {
			v := y[sorted[k-1]]
			sumL += v
			sum2L += v * v

			cur, prev := X[sorted[k]][f], X[sorted[k-1]][f]
			if cur == prev {
				continue
			}
			nl, nr := float64(k), float64(n-k)
			sumR := total - sumL
			sum2R := total2 - sum2L
			score := (sum2L - sumL*sumL/nl) + (sum2R - sumR*sumR/nr)
			if score < bestScore-1e-12 {
				bestScore = score
				feature = f
				threshold = (prev + cur) / 2
				ok = true
			}
		}
	}
	return feature, threshold, ok
}

func (m *RegressionTree) Predict(x []float64) (float64, error) {
	if !m.fitted {
		return 0, ErrNotFitted
	}
	if err := checkVector(x, m.nFeatures); err != nil {
		return 0, err
	}
	node := m.root
	for node.left != nil {
		if x[node.feature] <= node.threshold {
			node = node.left
		} else {
			node = node.right
		}
	}
	return node.value, nil
}

func (m *RegressionTree) PredictBatch(X [][]float64) ([]float64, error) {
	return predictBatch(m, X)
}

// Depth returns the height of the fitted tree.
func (m *RegressionTree) Depth() int {
	return nodeDepth(m.root)
}

func nodeDepth(n *treeNode) int {
	if n == nil || n.left == nil {
		return 0
	}
	l, r := nodeDepth(n.left), nodeDepth(n.right)
	if l > r {
		return 1 + l
	}
	return 1 + r
}

func meanAt(y []float64, idx []int) float64 {
	if len(idx) == 0 {
		return 0
	}
	sum := 0.0
	for _, i := range idx {
		sum += y[i]
	}
	return sum / float64(len(idx))
}

func sortByFeature(X [][]float64, idx []int, f int) {
	sort.Slice(idx, func(a, b int) bool { return X[idx[a]][f] < X[idx[b]][f] })
}
