package scanner

import (
	"fmt"
	"math"
	"time"

	"github.com/Hara602/usbHeuristic/internal/analysis"
	"github.com/Hara602/usbHeuristic/internal/model"
	"github.com/Hara602/usbHeuristic/internal/sysutil"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// 默认分数策略
const (
	DefaultSuspiciousFloor = 70.0 // 有被标记文件时的最低分
	DefaultAllClearCeiling = 50.0 // 低于该分且无可疑文件才算正常
)

// Policy 分数融合与报告阈值
type Policy struct {
	SuspiciousFloor float64
	AllClearCeiling float64
}

// DefaultPolicy 默认阈值
func DefaultPolicy() Policy {
	return Policy{SuspiciousFloor: DefaultSuspiciousFloor, AllClearCeiling: DefaultAllClearCeiling}
}

// Reporter 扫描结果的输出端
type Reporter interface {
	Report(result *model.SuspicionResult) error
}

// Coordinator 编排一次完整扫描：特征提取 -> 评分 -> 单文件判定 -> 融合 -> 报告
type Coordinator struct {
	scorer     analysis.Scorer
	classifier *analysis.Classifier
	reporter   Reporter
	policy     Policy
}

// New 组装扫描器，scorer 在此之前已拟合完成
func New(scorer analysis.Scorer, classifier *analysis.Classifier, reporter Reporter, policy Policy) *Coordinator {
	return &Coordinator{
		scorer:     scorer,
		classifier: classifier,
		reporter:   reporter,
		policy:     policy,
	}
}

// Fuse 只要有被单独标记的文件，最终分至少为 floor
func Fuse(base float64, suspicious int, floor float64) float64 {
	if suspicious > 0 {
		return math.Max(base, floor)
	}
	return base
}

// Scan 扫描 root，失败不重试，由调用方决定如何处理
func (c *Coordinator) Scan(root string) (*model.SuspicionResult, error) {
	started := time.Now()
	result := &model.SuspicionResult{
		ScanID:    uuid.NewString(),
		Root:      root,
		StartedAt: started,
	}
	log := sysutil.Log.With(zap.String("scan_id", result.ScanID), zap.String("root", root))
	log.Debug("Scan started")

	fv, records, stats, err := analysis.Extract(root)
	if err != nil {
		return nil, fmt.Errorf("extract features: %w", err)
	}
	if stats.Skipped > 0 {
		log.Warn("Skipped unreadable entries", zap.Int("count", stats.Skipped), zap.Error(stats.Err))
	}

	result.Features = fv
	result.Skipped = stats.Skipped
	result.BaseScore = c.scorer.Score(fv)

	for _, rec := range records {
		v := c.classifier.Evaluate(rec)
		if !v.Suspicious {
			continue
		}
		result.SuspiciousFiles = append(result.SuspiciousFiles, rec.Path)
		result.Findings = append(result.Findings, model.Finding{Path: rec.Path, Reason: v.Reason, Size: v.Size, Kind: rec.Kind})
		log.Debug("File flagged",
			zap.String("file", rec.Path),
			zap.String("reason", v.Reason),
			zap.String("kind", rec.Kind))
	}

	result.Score = Fuse(result.BaseScore, len(result.SuspiciousFiles), c.policy.SuspiciousFloor)
	result.Duration = time.Since(started)

	log.Info("Scan finished",
		zap.Int("total", fv.Total),
		zap.Int("exe", fv.Exe),
		zap.Int("hidden", fv.Hidden),
		zap.Float64("base_score", result.BaseScore),
		zap.Float64("score", result.Score),
		zap.Int("suspicious", len(result.SuspiciousFiles)),
		zap.Duration("took", result.Duration))

	if c.reporter != nil {
		if err := c.reporter.Report(result); err != nil {
			log.Error("Report failed", zap.Error(err))
		}
	}
	return result, nil
}
