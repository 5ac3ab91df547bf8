package analysis

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/Hara602/usbHeuristic/internal/model"
	"github.com/h2non/filetype"
	"go.uber.org/multierr"
)

// ExtractStats 遍历过程中被跳过的条目
type ExtractStats struct {
	Skipped int
	Err     error // 被吸收的错误汇总，仅用于日志
}

// Extract 遍历 root 下的所有文件，得到聚合特征和文件列表
// 单个子目录/文件的错误只跳过该部分；root 本身不可访问才返回错误
func Extract(root string) (model.FeatureVector, []model.FileRecord, ExtractStats, error) {
	var fv model.FeatureVector
	var records []model.FileRecord
	var stats ExtractStats

	info, err := os.Stat(root)
	if err != nil {
		return fv, nil, stats, fmt.Errorf("scan root %s: %w", root, err)
	}
	if !info.IsDir() {
		return fv, nil, stats, fmt.Errorf("scan root %s: not a directory", root)
	}

	// 挂载点本身可能是软链接，WalkDir 不会跟随根目录的链接
	walkRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return fv, nil, stats, fmt.Errorf("scan root %s: %w", root, err)
	}

	walkErr := filepath.WalkDir(walkRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == walkRoot {
				return err
			}
			// 权限不足等，跳过该子树
			stats.Skipped++
			stats.Err = multierr.Append(stats.Err, err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		// 指向目录的软链接按目录处理，不计数也不进入
		if d.Type()&fs.ModeSymlink != 0 {
			if target, err := os.Stat(path); err == nil && target.IsDir() {
				return nil
			}
		}

		// 报告中的路径仍以调用方给出的 root 为前缀
		if walkRoot != root {
			if rel, err := filepath.Rel(walkRoot, path); err == nil {
				path = filepath.Join(root, rel)
			}
		}
		rec := newRecord(path, d)
		fv.Total++
		if IsExecutableName(rec.Name) {
			fv.Exe++
		}
		if rec.Hidden {
			fv.Hidden++
		}
		records = append(records, rec)
		return nil
	})
	if walkErr != nil {
		return fv, nil, stats, fmt.Errorf("walk %s: %w", root, walkErr)
	}
	return fv, records, stats, nil
}

// IsExecutableName 后缀 .exe，大小写不敏感
func IsExecutableName(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".exe")
}

// IsHiddenName 以 "." 开头
func IsHiddenName(name string) bool {
	return strings.HasPrefix(name, ".")
}

func newRecord(path string, d fs.DirEntry) model.FileRecord {
	name := d.Name()
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	rec := model.FileRecord{
		Path:   path,
		Name:   name,
		Ext:    ext,
		Hidden: IsHiddenName(name),
	}
	// ".bashrc" 之类整个名字都是后缀，不算扩展名
	if rec.Hidden && "."+ext == strings.ToLower(name) {
		rec.Ext = ""
	}
	// 软链接的大小留给判定阶段 stat 目标文件
	if d.Type()&fs.ModeSymlink == 0 {
		if info, err := d.Info(); err == nil {
			rec.Size = info.Size()
			rec.SizeKnown = true
		}
	}
	rec.Kind = kindOf(rec.Ext)
	return rec
}

// kindOf 只根据后缀查 filetype 的类型表，不读取文件头
func kindOf(ext string) string {
	if ext == "" || !filetype.IsSupported(ext) {
		return ""
	}
	return filetype.GetType(ext).MIME.Value
}
