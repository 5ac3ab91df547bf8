package analysis

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/Hara602/usbHeuristic/internal/model"
)

const eulerGamma = 0.5772156649015329

// ForestConfig 孤立森林参数
type ForestConfig struct {
	Trees         int     // 树的数量
	MaxSamples    int     // 每棵树的采样数上限
	Contamination float64 // 参考样本中异常点的比例，决定偏移量
	Seed          int64
	Scale         float64 // 原始异常度到 [0,100] 的线性系数
}

// DefaultForestConfig 与最初的模型参数保持一致
func DefaultForestConfig() ForestConfig {
	return ForestConfig{
		Trees:         100,
		MaxSamples:    256,
		Contamination: 0.2,
		Seed:          42,
		Scale:         100,
	}
}

type isoNode struct {
	feature     int
	split       float64
	left, right *isoNode
	size        int // 叶子节点中的样本数
}

func (n *isoNode) isLeaf() bool { return n.left == nil }

// IsolationForest 启动时拟合一次，之后只读，可并发使用
type IsolationForest struct {
	trees  []*isoNode
	dims   int
	norm   float64 // c(psi)
	offset float64
	scale  float64
	lo, hi []float64 // 参考样本每个特征的范围
}

// FitIsolationForest 在参考样本上拟合；相同样本和种子得到相同模型
func FitIsolationForest(reference [][]float64, cfg ForestConfig) (*IsolationForest, error) {
	dims, err := checkReference(reference)
	if err != nil {
		return nil, err
	}
	if cfg.Trees <= 0 {
		return nil, fmt.Errorf("trees must be positive, got %d", cfg.Trees)
	}
	if cfg.Contamination <= 0 || cfg.Contamination > 0.5 {
		return nil, fmt.Errorf("contamination must be in (0, 0.5], got %v", cfg.Contamination)
	}
	if cfg.MaxSamples <= 0 {
		cfg.MaxSamples = 256
	}
	if cfg.Scale <= 0 {
		cfg.Scale = 100
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	psi := min(cfg.MaxSamples, len(reference))
	limit := int(math.Ceil(math.Log2(float64(max(psi, 2)))))

	f := &IsolationForest{
		trees: make([]*isoNode, 0, cfg.Trees),
		dims:  dims,
		norm:  averagePathLength(psi),
		scale: cfg.Scale,
		lo:    append([]float64(nil), reference[0]...),
		hi:    append([]float64(nil), reference[0]...),
	}
	for _, row := range reference[1:] {
		for i, v := range row {
			f.lo[i] = math.Min(f.lo[i], v)
			f.hi[i] = math.Max(f.hi[i], v)
		}
	}
	if f.norm <= 0 {
		f.norm = 1
	}

	for i := 0; i < cfg.Trees; i++ {
		// 不放回采样
		perm := rng.Perm(len(reference))[:psi]
		rows := make([][]float64, psi)
		for j, idx := range perm {
			rows[j] = reference[idx]
		}
		f.trees = append(f.trees, growTree(rows, 0, limit, dims, rng))
	}

	// 偏移量取参考样本 -a(x) 的 contamination 分位数，正常点的原始值落在 0 附近
	neg := make([]float64, len(reference))
	for i, row := range reference {
		neg[i] = -f.anomaly(row)
	}
	f.offset = percentile(neg, cfg.Contamination*100)
	return f, nil
}

func growTree(rows [][]float64, depth, limit, dims int, rng *rand.Rand) *isoNode {
	if depth >= limit || len(rows) <= 1 {
		return &isoNode{size: len(rows)}
	}
	feature := rng.Intn(dims)
	lo, hi := rows[0][feature], rows[0][feature]
	for _, r := range rows[1:] {
		lo = math.Min(lo, r[feature])
		hi = math.Max(hi, r[feature])
	}

	// 该特征在节点内恒定：在该值处切分，右侧为空
	// 参考样本中从未出现过的更大值会直接被孤立
	if lo == hi {
		return &isoNode{
			feature: feature,
			split:   lo,
			left:    growTree(rows, depth+1, limit, dims, rng),
			right:   &isoNode{},
		}
	}

	split := lo + rng.Float64()*(hi-lo)
	var left, right [][]float64
	for _, r := range rows {
		if r[feature] <= split {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}
	return &isoNode{
		feature: feature,
		split:   split,
		left:    growTree(left, depth+1, limit, dims, rng),
		right:   growTree(right, depth+1, limit, dims, rng),
	}
}

func pathLength(x []float64, n *isoNode) float64 {
	depth := 0.0
	for !n.isLeaf() {
		if x[n.feature] <= n.split {
			n = n.left
		} else {
			n = n.right
		}
		depth++
	}
	return depth + averagePathLength(n.size)
}

// averagePathLength c(n): n 个样本的二叉搜索树中不成功查找的平均路径长度
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	return 2*(math.Log(float64(n-1))+eulerGamma) - 2*float64(n-1)/float64(n)
}

// anomaly 2^(-E[h(x)]/c(psi))，取值 (0,1]，越大越异常
func (f *IsolationForest) anomaly(x []float64) float64 {
	var sum float64
	for _, t := range f.trees {
		sum += pathLength(x, t)
	}
	mean := sum / float64(len(f.trees))
	return math.Pow(2, -mean/f.norm)
}

// excess 超出参考范围的程度，按特征跨度归一后求和
// 孤立树对超出范围的值只给出同一条最短路径，这一项让更远的点得分更高
func (f *IsolationForest) excess(x []float64) float64 {
	var e float64
	for i, v := range x {
		span := math.Max(f.hi[i]-f.lo[i], 1)
		e += math.Max(0, math.Max(v-f.hi[i], f.lo[i]-v)) / span
	}
	return e
}

// extrapolation 取值 [0, 0.5)，随 excess 严格递增
func (f *IsolationForest) extrapolation(x []float64) float64 {
	return 0.5 * (1 - math.Pow(2, -f.excess(x)/8))
}

// Raw 原始异常度，参考分布内的点约为 0 或负数
func (f *IsolationForest) Raw(fv model.FeatureVector) float64 {
	x := fv.Floats()
	return f.anomaly(x) + f.offset + f.extrapolation(x)
}

// Score 孤立树部分低于 0 时按 0 计，再加上超出范围的部分，放大后截断到 [0,100]
func (f *IsolationForest) Score(fv model.FeatureVector) float64 {
	x := fv.Floats()
	tree := math.Max(0, f.anomaly(x)+f.offset)
	return clampScore((tree + f.extrapolation(x)) * f.scale)
}

func checkReference(reference [][]float64) (int, error) {
	if len(reference) == 0 {
		return 0, errors.New("reference sample is empty")
	}
	dims := len(reference[0])
	if dims == 0 {
		return 0, errors.New("reference sample has no features")
	}
	for i, row := range reference {
		if len(row) != dims {
			return 0, fmt.Errorf("reference row %d has %d features, want %d", i, len(row), dims)
		}
	}
	return dims, nil
}

// percentile 线性插值分位数，q 取 [0,100]
func percentile(values []float64, q float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	pos := q / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := min(lo+1, len(sorted)-1)
	return sorted[lo] + (pos-float64(lo))*(sorted[hi]-sorted[lo])
}

func clampScore(s float64) float64 {
	if math.IsNaN(s) {
		return 0
	}
	return math.Min(100, math.Max(0, s))
}
