package model

import "time"

// FeatureVector 一次扫描得到的目录树聚合特征
type FeatureVector struct {
	Total  int // 文件总数
	Exe    int // .exe 文件数
	Hidden int // 以 "." 开头的文件数
}

// Floats 按 [total, exe, hidden] 顺序输出，供评分模型使用
func (f FeatureVector) Floats() []float64 {
	return []float64{float64(f.Total), float64(f.Exe), float64(f.Hidden)}
}

// FileRecord 遍历过程中产生的单个文件信息，分类完即丢弃
type FileRecord struct {
	Path      string
	Name      string
	Ext       string // 小写，不带 "."
	Hidden    bool
	Size      int64
	SizeKnown bool   // 遍历时 Info() 失败则为 false
	Kind      string // 根据后缀推断的 MIME，未知为空
}

// Finding 被标记文件及原因
type Finding struct {
	Path   string
	Reason string // "executable", "hidden", "oversized"
	Size   int64
	Kind   string // 按后缀推断的 MIME 类型，未知为空
}

// SuspicionResult 单次扫描的最终结果
type SuspicionResult struct {
	ScanID          string
	Root            string
	Features        FeatureVector
	BaseScore       float64 // 模型原始分
	Score           float64 // 融合后的最终分 [0,100]
	SuspiciousFiles []string
	Findings        []Finding
	Skipped         int // 因权限等原因跳过的条目
	StartedAt       time.Time
	Duration        time.Duration
}
