//go:build !linux

package watcher

import (
	"fmt"
	"time"

	"github.com/Hara602/usbHeuristic/internal/model"
)

type udevWatcher struct{}

// NewUdevWatcher udev 只在 Linux 上可用
func NewUdevWatcher(time.Duration) Source { return &udevWatcher{} }

func (w *udevWatcher) Start() (<-chan model.MountEvent, error) {
	return nil, fmt.Errorf("udev: %w", errNotSupported)
}

func (w *udevWatcher) Stop() error { return nil }
