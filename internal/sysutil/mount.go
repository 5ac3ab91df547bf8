package sysutil

import (
	"path/filepath"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
)

// gopsutil 屏蔽了各平台挂载表的差异 (/proc/mounts, getfsstat, GetLogicalDrives)
var partitions = disk.Partitions

// MountPoint 挂载表中的一项
type MountPoint struct {
	Device string
	Path   string
	FsType string
}

// WaitForMount 轮询挂载表等待设备挂载
// udev 事件触发时，文件系统可能还没挂载好
func WaitForMount(devPath string, timeout time.Duration) string {
	deadline := time.Now().Add(timeout)
	for {
		parts, err := partitions(true)
		if err == nil {
			for _, p := range parts {
				if p.Device == devPath {
					return p.Mountpoint
				}
			}
		}
		if time.Now().After(deadline) {
			return ""
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// LookupMount 查找 path 所在(或恰好是)的挂载点，取最长前缀匹配
func LookupMount(path string) (MountPoint, bool) {
	parts, err := partitions(true)
	if err != nil {
		return MountPoint{}, false
	}
	clean := filepath.Clean(path)
	var best MountPoint
	found := false
	for _, p := range parts {
		mp := filepath.Clean(p.Mountpoint)
		if !isWithin(clean, mp) {
			continue
		}
		if !found || len(mp) > len(best.Path) {
			best = MountPoint{Device: p.Device, Path: mp, FsType: p.Fstype}
			found = true
		}
	}
	return best, found
}

func isWithin(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !startsWithParent(rel))
}

func startsWithParent(rel string) bool {
	return len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator)
}
