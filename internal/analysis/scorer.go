package analysis

import (
	"fmt"

	"github.com/Hara602/usbHeuristic/internal/model"
)

// 评分模型名称
const (
	ModelIsolationForest = "iforest"
	ModelCentroid        = "centroid"
)

// DefaultReference 正常 U 盘的参考样本: [total, exe, hidden]
// 几十到上百个文件，没有 exe，最多一个隐藏文件
var DefaultReference = [][]float64{
	{130, 0, 0},
	{150, 0, 1},
	{120, 0, 0},
}

// Scorer 聚合特征到 [0,100] 的可疑分，越大越异常
type Scorer interface {
	Score(fv model.FeatureVector) float64
}

// ScorerConfig 选择模型并提供参考样本
type ScorerConfig struct {
	Model     string
	Reference [][]float64
	Forest    ForestConfig
}

// NewScorer 用参考样本拟合模型
func NewScorer(cfg ScorerConfig) (Scorer, error) {
	ref := cfg.Reference
	if len(ref) == 0 {
		ref = DefaultReference
	}
	for i, row := range ref {
		if len(row) != 3 {
			return nil, fmt.Errorf("reference row %d: want [total, exe, hidden], got %v", i, row)
		}
	}

	fc := cfg.Forest
	def := DefaultForestConfig()
	if fc.Trees == 0 {
		fc.Trees = def.Trees
	}
	if fc.Contamination == 0 {
		fc.Contamination = def.Contamination
	}
	if fc.Scale == 0 {
		fc.Scale = def.Scale
	}
	// 种子 0 视为未设置
	if fc.Seed == 0 {
		fc.Seed = def.Seed
	}
	if fc.MaxSamples == 0 {
		fc.MaxSamples = def.MaxSamples
	}

	switch cfg.Model {
	case "", ModelIsolationForest:
		forest, err := FitIsolationForest(ref, fc)
		if err != nil {
			return nil, fmt.Errorf("fit isolation forest: %w", err)
		}
		return forest, nil
	case ModelCentroid:
		centroid, err := FitCentroid(ref, fc.Scale)
		if err != nil {
			return nil, fmt.Errorf("fit centroid: %w", err)
		}
		return centroid, nil
	default:
		return nil, fmt.Errorf("unknown scoring model %q", cfg.Model)
	}
}
