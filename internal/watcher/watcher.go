package watcher

import (
	"errors"
	"fmt"
	"time"

	"github.com/Hara602/usbHeuristic/internal/model"
	"github.com/Hara602/usbHeuristic/internal/sysutil"
	"go.uber.org/zap"
)

// 目录监听方式
const (
	ModeAuto    = "auto"    // Linux 用 inotify，失败或其他平台退化为轮询
	ModeInotify = "inotify" // 只用 inotify，失败即报错
	ModePoll    = "poll"
)

var errNotSupported = errors.New("not supported on this platform")

// Source 挂载事件来源
type Source interface {
	Start() (<-chan model.MountEvent, error)
	Stop() error
}

// DirOptions 目录监听参数
type DirOptions struct {
	Dir          string        // 被监听的父目录
	Mode         string        // auto, inotify, poll
	PollInterval time.Duration // 仅轮询模式使用
}

// NewDirWatcher 监听 Dir 下新建的子目录
func NewDirWatcher(opts DirOptions) (Source, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	switch opts.Mode {
	case ModePoll:
		return newPollWatcher(opts.Dir, opts.PollInterval), nil
	case ModeInotify:
		w, err := newNativeWatcher(opts.Dir)
		if err != nil {
			return nil, fmt.Errorf("inotify watcher: %w", err)
		}
		return w, nil
	case ModeAuto, "":
		w, err := newNativeWatcher(opts.Dir)
		if err != nil {
			sysutil.Log.Warn("⚠️ Native directory events unavailable, falling back to polling",
				zap.String("dir", opts.Dir),
				zap.Duration("interval", opts.PollInterval),
				zap.Error(err))
			return newPollWatcher(opts.Dir, opts.PollInterval), nil
		}
		return w, nil
	default:
		return nil, fmt.Errorf("unknown watch mode %q", opts.Mode)
	}
}

func addEvent(path, source string) model.MountEvent {
	return model.MountEvent{
		Action:    "add",
		Path:      path,
		Source:    source,
		TimeStamp: time.Now(),
	}
}
