package monitor

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Hara602/usbHeuristic/internal/model"
	"github.com/Hara602/usbHeuristic/internal/sysutil"
	"github.com/Hara602/usbHeuristic/internal/watcher"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// State 监控器状态
type State int32

const (
	Idle     State = iota // 未订阅任何事件
	Watching              // 已订阅挂载事件
)

func (s State) String() string {
	if s == Watching {
		return "watching"
	}
	return "idle"
}

// Scanner 对一个路径执行完整扫描
type Scanner interface {
	Scan(root string) (*model.SuspicionResult, error)
}

// Options 监控参数
type Options struct {
	Target         string        // 启动时检查的挂载点
	SettleDelay    time.Duration // 收到事件后等待挂载完成
	RescanInterval time.Duration // 定时重扫 Target，0 表示关闭
}

// Monitor 挂载监控状态机: Idle <-> Watching
type Monitor struct {
	opts    Options
	scanner Scanner
	sources []watcher.Source
	state   atomic.Int32
}

// New sources 在 Run 中启动，Run 返回前全部停止
func New(opts Options, scanner Scanner, sources ...watcher.Source) *Monitor {
	return &Monitor{opts: opts, scanner: scanner, sources: sources}
}

// State 当前状态
func (m *Monitor) State() State { return State(m.state.Load()) }

// Run 阻塞直到 ctx 取消；订阅失败时返回错误
// 扫描在本 goroutine 串行执行，取消时正在进行的扫描会先完成
func (m *Monitor) Run(ctx context.Context) error {
	// 启动前已插入的设备
	if _, err := os.Stat(m.opts.Target); err == nil {
		m.scan(m.opts.Target, model.SourceInitial)
	} else {
		sysutil.Log.Info("Target not mounted yet", zap.String("path", m.opts.Target))
	}

	events, stop, err := m.subscribe()
	if err != nil {
		return err
	}
	defer func() {
		if err := stop(); err != nil {
			sysutil.Log.Warn("Release subscription failed", zap.Error(err))
		}
		m.state.Store(int32(Idle))
		sysutil.Log.Info("Monitor stopped")
	}()
	m.state.Store(int32(Watching))
	sysutil.Log.Info("👀 Monitoring for USB insertion...", zap.String("target", m.opts.Target))

	var rescan <-chan time.Time
	if m.opts.RescanInterval > 0 {
		ticker := time.NewTicker(m.opts.RescanInterval)
		defer ticker.Stop()
		rescan = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev := <-events:
			m.handle(ctx, ev)

		case <-rescan:
			if _, err := os.Stat(m.opts.Target); err == nil {
				m.scan(m.opts.Target, model.SourceRescan)
			}
		}
	}
}

// subscribe 启动所有事件源并汇聚到一个 channel，任何一个失败即整体失败
func (m *Monitor) subscribe() (<-chan model.MountEvent, func() error, error) {
	merged := make(chan model.MountEvent)
	quit := make(chan struct{})
	var wg sync.WaitGroup

	stopAll := func() error {
		close(quit)
		var err error
		for _, src := range m.sources {
			err = multierr.Append(err, src.Stop())
		}
		wg.Wait()
		return err
	}

	for _, src := range m.sources {
		ch, err := src.Start()
		if err != nil {
			if stopErr := stopAll(); stopErr != nil {
				sysutil.Log.Warn("Release partial subscription failed", zap.Error(stopErr))
			}
			return nil, nil, fmt.Errorf("subscribe mount events: %w", err)
		}
		wg.Add(1)
		go func(ch <-chan model.MountEvent) {
			defer wg.Done()
			for {
				select {
				case <-quit:
					return
				case ev, ok := <-ch:
					if !ok {
						return
					}
					select {
					case merged <- ev:
					case <-quit:
						return
					}
				}
			}
		}(ch)
	}
	return merged, stopAll, nil
}

func (m *Monitor) handle(ctx context.Context, ev model.MountEvent) {
	if ev.Action != "add" {
		fields := []zap.Field{zap.String("action", ev.Action), zap.String("source", ev.Source)}
		if ev.Device != nil {
			fields = append(fields, zap.String("dev", ev.Device.DevicePath))
		}
		sysutil.Log.Info("❌ USB Removed", fields...)
		return
	}

	fields := []zap.Field{zap.String("mount", ev.Path), zap.String("source", ev.Source)}
	if ev.Device != nil {
		fields = append(fields,
			zap.String("vid", ev.Device.VendorID),
			zap.String("pid", ev.Device.ProductID),
			zap.String("product", ev.Device.Product),
			zap.String("type", ev.Device.DeviceType))
	}
	sysutil.Log.Info("✅ USB Connected", fields...)

	// 等待系统完成挂载；等待期间收到退出信号则放弃本次扫描
	if m.opts.SettleDelay > 0 {
		timer := time.NewTimer(m.opts.SettleDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	if mp, ok := sysutil.LookupMount(ev.Path); ok {
		sysutil.Log.Debug("Mount info",
			zap.String("path", ev.Path),
			zap.String("device", mp.Device),
			zap.String("fstype", mp.FsType))
	}
	m.scan(ev.Path, ev.Source)
}

// scan 失败只记录，监控继续
func (m *Monitor) scan(path, source string) {
	sysutil.Log.Info("🔍 Scanning USB", zap.String("path", path), zap.String("trigger", source))
	if _, err := m.scanner.Scan(path); err != nil {
		sysutil.Log.Error("Scan failed", zap.String("path", path), zap.Error(err))
	}
}
