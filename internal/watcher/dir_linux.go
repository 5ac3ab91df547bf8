//go:build linux

package watcher

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/Hara602/usbHeuristic/internal/model"
	"github.com/Hara602/usbHeuristic/internal/sysutil"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// inotifyHeader 对应 C 结构体 inotify_event 的头部，name 紧跟其后
type inotifyHeader struct {
	Wd     int32
	Mask   uint32
	Cookie uint32
	Len    uint32
}

const inotifyHeaderSize = 16

const watchMask = unix.IN_CREATE | unix.IN_MOVED_TO | unix.IN_ONLYDIR | unix.IN_DELETE_SELF

type inotifyWatcher struct {
	fd       int
	wd       int
	dir      string
	events   chan model.MountEvent
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func newNativeWatcher(dir string) (Source, error) {
	// 非阻塞 + poll，Stop 时读循环能及时退出
	fd, err := unix.InotifyInit1(unix.IN_CLOEXEC | unix.IN_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("inotify init failed: %w", err)
	}
	return &inotifyWatcher{
		fd:     fd,
		wd:     -1,
		dir:    dir,
		events: make(chan model.MountEvent, 16),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}, nil
}

func (w *inotifyWatcher) Start() (<-chan model.MountEvent, error) {
	wd, err := unix.InotifyAddWatch(w.fd, w.dir, watchMask)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.wd = wd

	go w.readLoop()
	return w.events, nil
}

func (w *inotifyWatcher) readLoop() {
	defer close(w.done)
	defer close(w.events)

	var buf [4096]byte
	fds := []unix.PollFd{{Fd: int32(w.fd), Events: unix.POLLIN}}
	for {
		select {
		case <-w.stop:
			return
		default:
		}

		n, err := unix.Poll(fds, 200)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			sysutil.Log.Error("inotify poll failed", zap.Error(err))
			return
		}
		if n == 0 {
			continue
		}

		n, err = unix.Read(w.fd, buf[:])
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				continue
			}
			sysutil.Log.Error("inotify read failed", zap.Error(err))
			return
		}
		if !w.processEvents(buf[:n]) {
			return
		}
	}
}

// processEvents 一次 read 可能包含多个事件：[header][name] [header][name] ...
// 返回 false 表示已收到停止信号
func (w *inotifyWatcher) processEvents(buf []byte) bool {
	var offset int
	for offset+inotifyHeaderSize <= len(buf) {
		var hdr inotifyHeader
		if err := binary.Read(bytes.NewReader(buf[offset:offset+inotifyHeaderSize]), binary.NativeEndian, &hdr); err != nil {
			sysutil.LogSugar.Errorf("inotify header read failed: %v", err)
			return true
		}
		nameStart := offset + inotifyHeaderSize
		nameEnd := nameStart + int(hdr.Len)
		if nameEnd > len(buf) {
			return true
		}
		name := buf[nameStart:nameEnd]
		// name 以 NUL 结尾并按对齐补零
		if idx := bytes.IndexByte(name, 0); idx != -1 {
			name = name[:idx]
		}
		offset = nameEnd

		switch {
		case hdr.Mask&unix.IN_Q_OVERFLOW != 0:
			sysutil.Log.Warn("inotify queue overflow, some mounts may be missed", zap.String("dir", w.dir))
		case hdr.Mask&(unix.IN_DELETE_SELF|unix.IN_IGNORED) != 0:
			sysutil.Log.Error("Watched directory is gone", zap.String("dir", w.dir))
		case hdr.Mask&unix.IN_ISDIR != 0 && hdr.Mask&(unix.IN_CREATE|unix.IN_MOVED_TO) != 0 && len(name) > 0:
			ev := addEvent(filepath.Join(w.dir, string(name)), model.SourceInotify)
			select {
			case w.events <- ev:
			case <-w.stop:
				return false
			}
		}
	}
	return true
}

func (w *inotifyWatcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stop)
		// 未启动成功时读循环不存在
		if w.wd >= 0 {
			<-w.done
			// 目录被删除后 watch 已自动移除，EINVAL 可忽略
			if _, rmErr := unix.InotifyRmWatch(w.fd, uint32(w.wd)); rmErr != nil && !errors.Is(rmErr, unix.EINVAL) {
				err = multierr.Append(err, fmt.Errorf("inotify rm watch: %w", rmErr))
			}
		}
		err = multierr.Append(err, unix.Close(w.fd))
	})
	return err
}
