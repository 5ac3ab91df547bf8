package analysis

import (
	"io/fs"
	"os"

	"github.com/Hara602/usbHeuristic/internal/model"
)

// 默认阈值
const (
	DefaultSizeThreshold int64 = 50 * 1024 * 1024 // 50 MiB
)

// DefaultIgnore 系统元数据文件，不参与可疑判定
var DefaultIgnore = []string{".DS_Store", "Thumbs.db", "desktop.ini"}

// 标记原因
const (
	ReasonExecutable = "executable"
	ReasonHidden     = "hidden"
	ReasonOversized  = "oversized"
)

// Verdict 单个文件的判定结果
type Verdict struct {
	Suspicious bool
	Reason     string
	Size       int64 // 判定时已知的文件大小
}

// Classifier 单文件启发式判定，与聚合模型无关
type Classifier struct {
	ignore        map[string]struct{}
	sizeThreshold int64
	stat          func(string) (fs.FileInfo, error)
}

// NewClassifier 创建判定器；sizeThreshold <= 0 时使用 50 MiB
func NewClassifier(ignore []string, sizeThreshold int64) *Classifier {
	if sizeThreshold <= 0 {
		sizeThreshold = DefaultSizeThreshold
	}
	set := make(map[string]struct{}, len(ignore))
	for _, name := range ignore {
		set[name] = struct{}{}
	}
	return &Classifier{ignore: set, sizeThreshold: sizeThreshold, stat: os.Stat}
}

// Evaluate 按顺序匹配规则，第一个命中即返回
func (c *Classifier) Evaluate(rec model.FileRecord) Verdict {
	// 1. 白名单直接放行
	if _, ok := c.ignore[rec.Name]; ok {
		return Verdict{}
	}

	// 2. 可执行文件 / 隐藏文件
	if IsExecutableName(rec.Name) {
		return Verdict{Suspicious: true, Reason: ReasonExecutable, Size: rec.Size}
	}
	if IsHiddenName(rec.Name) {
		return Verdict{Suspicious: true, Reason: ReasonHidden, Size: rec.Size}
	}

	// 3. 超大文件；拿不到大小(扫描中被删除、无权限)视为正常
	size := rec.Size
	if !rec.SizeKnown {
		info, err := c.stat(rec.Path)
		if err != nil {
			return Verdict{}
		}
		size = info.Size()
	}
	if size > c.sizeThreshold {
		return Verdict{Suspicious: true, Reason: ReasonOversized, Size: size}
	}
	return Verdict{}
}

// IsSuspicious 只关心结论
func (c *Classifier) IsSuspicious(rec model.FileRecord) bool {
	return c.Evaluate(rec).Suspicious
}
