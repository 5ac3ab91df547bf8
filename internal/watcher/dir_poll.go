package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/Hara602/usbHeuristic/internal/model"
	"github.com/Hara602/usbHeuristic/internal/sysutil"
	"go.uber.org/zap"
)

// pollWatcher 定时列目录，对比出新增的子目录
// 拔出后名字会被遗忘，再次插入同名设备仍会触发
type pollWatcher struct {
	dir      string
	interval time.Duration
	known    map[string]struct{}
	events   chan model.MountEvent
	stop     chan struct{}
	done     chan struct{}
	started  bool
	stopOnce sync.Once
}

func newPollWatcher(dir string, interval time.Duration) *pollWatcher {
	return &pollWatcher{
		dir:      dir,
		interval: interval,
		events:   make(chan model.MountEvent, 16),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (w *pollWatcher) Start() (<-chan model.MountEvent, error) {
	// 启动时的快照作为基线，已有目录不触发
	known, err := listDirs(w.dir)
	if err != nil {
		return nil, fmt.Errorf("poll %s: %w", w.dir, err)
	}
	w.known = known
	w.started = true

	go w.loop()
	return w.events, nil
}

func (w *pollWatcher) loop() {
	defer close(w.done)
	defer close(w.events)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			if !w.poll() {
				return
			}
		}
	}
}

// poll 返回 false 表示已收到停止信号
func (w *pollWatcher) poll() bool {
	current, err := listDirs(w.dir)
	if err != nil {
		// 目录暂时不可读，保留旧快照，下次再试
		sysutil.Log.Warn("Poll failed", zap.String("dir", w.dir), zap.Error(err))
		return true
	}
	var added []string
	for name := range current {
		if _, ok := w.known[name]; !ok {
			added = append(added, name)
		}
	}
	w.known = current
	slices.Sort(added)

	for _, name := range added {
		select {
		case w.events <- addEvent(filepath.Join(w.dir, name), model.SourcePoll):
		case <-w.stop:
			return false
		}
	}
	return true
}

func (w *pollWatcher) Stop() error {
	w.stopOnce.Do(func() {
		close(w.stop)
		if w.started {
			<-w.done
		}
	})
	return nil
}

// listDirs 列出 dir 下的子目录(包括指向目录的软链接，如 Windows 盘符)
func listDirs(dir string) (map[string]struct{}, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	dirs := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			dirs[e.Name()] = struct{}{}
			continue
		}
		if e.Type()&os.ModeSymlink != 0 {
			if info, err := os.Stat(filepath.Join(dir, e.Name())); err == nil && info.IsDir() {
				dirs[e.Name()] = struct{}{}
			}
		}
	}
	return dirs, nil
}
