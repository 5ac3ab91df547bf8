package analysis

import (
	"math"

	"github.com/Hara602/usbHeuristic/internal/model"
)

// CentroidScorer 到参考样本中心的归一化距离
// exe/hidden 只计算高出中心的部分，分数随二者单调不减
type CentroidScorer struct {
	mean   []float64
	spread []float64
	margin float64
	scale  float64
}

// FitCentroid 计算参考样本每个特征的均值和标准差(下限 1)
func FitCentroid(reference [][]float64, scale float64) (*CentroidScorer, error) {
	dims, err := checkReference(reference)
	if err != nil {
		return nil, err
	}
	if scale <= 0 {
		scale = 100
	}
	n := float64(len(reference))
	c := &CentroidScorer{
		mean:   make([]float64, dims),
		spread: make([]float64, dims),
		margin: 1,
		scale:  scale,
	}
	for _, row := range reference {
		for i, v := range row {
			c.mean[i] += v / n
		}
	}
	for _, row := range reference {
		for i, v := range row {
			d := v - c.mean[i]
			c.spread[i] += d * d / n
		}
	}
	for i := range c.spread {
		c.spread[i] = math.Max(math.Sqrt(c.spread[i]), 1)
	}
	return c, nil
}

// Raw 距离减去 margin，参考分布内的点不大于 0
func (c *CentroidScorer) Raw(fv model.FeatureVector) float64 {
	x := fv.Floats()
	var sum float64
	for i, v := range x {
		d := v - c.mean[i]
		if i > 0 && d < 0 {
			// exe/hidden 比正常少不算异常
			d = 0
		}
		z := math.Abs(d) / c.spread[i]
		sum += z * z
	}
	return math.Sqrt(sum) - c.margin
}

func (c *CentroidScorer) Score(fv model.FeatureVector) float64 {
	return clampScore(c.Raw(fv) * c.scale / 10)
}
