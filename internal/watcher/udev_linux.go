//go:build linux

package watcher

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Hara602/usbHeuristic/internal/analysis"
	"github.com/Hara602/usbHeuristic/internal/model"
	"github.com/Hara602/usbHeuristic/internal/sysutil"
	"github.com/pilebones/go-udev/netlink"
	"go.uber.org/zap"
)

type udevWatcher struct {
	events       chan model.MountEvent
	stop         chan struct{}
	stopOnce     sync.Once
	sysRoot      string
	mountTimeout time.Duration
	waitForMount func(devPath string, timeout time.Duration) string
}

// NewUdevWatcher 监听 USB 分区的热插拔，等分区挂载后上报挂载点
func NewUdevWatcher(mountTimeout time.Duration) Source {
	if mountTimeout <= 0 {
		mountTimeout = 3 * time.Second
	}
	return &udevWatcher{
		events:       make(chan model.MountEvent, 10),
		stop:         make(chan struct{}),
		sysRoot:      "/sys",
		mountTimeout: mountTimeout,
		waitForMount: sysutil.WaitForMount,
	}
}

func (w *udevWatcher) Start() (<-chan model.MountEvent, error) {
	// 监听 UDEV 事件,连接 NETLINK_KOBJECT_UEVENT
	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		return nil, err
	}
	queue := make(chan netlink.UEvent)
	errChan := make(chan error)

	quit := conn.Monitor(queue, errChan, nil)

	go func() {
		defer conn.Close()
		for {
			select {
			case <-w.stop:
				close(quit)
				return
			case err := <-errChan:
				// 底层 netlink 错误不致命，继续监听
				sysutil.Log.Debug("udev monitor error", zap.Error(err))
			case uevent := <-queue:
				w.handleUdevEvent(uevent)
			}
		}
	}()
	return w.events, nil
}

func (w *udevWatcher) Stop() error {
	w.stopOnce.Do(func() { close(w.stop) })
	return nil
}

func (w *udevWatcher) handleUdevEvent(uevent netlink.UEvent) {
	if uevent.Env["SUBSYSTEM"] != "block" || uevent.Env["DEVTYPE"] != "partition" {
		return
	}
	switch uevent.Action {
	case "add":
		// 等待挂载可能需要几秒，不阻塞事件循环
		go w.handleAdd(uevent)
	case "remove":
		w.emit(model.MountEvent{
			Action:    "remove",
			Source:    model.SourceUdev,
			Device:    &model.USBDevice{DevicePath: devName(uevent)},
			TimeStamp: time.Now(),
		})
	}
}

func (w *udevWatcher) handleAdd(uevent netlink.UEvent) {
	dev := devName(uevent)
	sysPath := filepath.Join(w.sysRoot, uevent.Env["DEVPATH"])

	// 向上回溯找到 USB 物理设备根目录，找不到说明不在 USB 总线上
	usbRoot, ok := findUSBRoot(sysPath)
	if !ok {
		return
	}
	device := &model.USBDevice{
		DevicePath: dev,
		VendorID:   readFile(filepath.Join(usbRoot, "idVendor")),
		ProductID:  readFile(filepath.Join(usbRoot, "idProduct")),
		Serial:     readFile(filepath.Join(usbRoot, "serial")),
		Product:    readFile(filepath.Join(usbRoot, "product")),
	}
	isBad, devType := analysis.ClassifyDevice(usbRoot)
	device.DeviceType = devType
	if isBad {
		sysutil.Log.Warn("🚨 POTENTIAL BADUSB DETECTED",
			zap.String("serial", device.Serial),
			zap.String("vid", device.VendorID),
			zap.String("pid", device.ProductID))
	}

	mountPoint := w.waitForMount(dev, w.mountTimeout)
	if mountPoint == "" {
		sysutil.Log.Warn("Device detected but mount point not found (timeout)", zap.String("dev", dev))
		return
	}

	w.emit(model.MountEvent{
		Action:    "add",
		Path:      mountPoint,
		Source:    model.SourceUdev,
		Device:    device,
		TimeStamp: time.Now(),
	})
}

func (w *udevWatcher) emit(ev model.MountEvent) {
	select {
	case w.events <- ev:
	case <-w.stop:
	}
}

// UEvent Env 示例: DEVNAME=sdb1 或 /dev/sdb1
func devName(uevent netlink.UEvent) string {
	name := uevent.Env["DEVNAME"]
	if !strings.HasPrefix(name, "/dev") {
		name = "/dev/" + name
	}
	return name
}

// findUSBRoot 向上查找包含 idVendor 的目录（即 USB Device 根目录）
func findUSBRoot(path string) (string, bool) {
	dir := path
	// 最多回溯 10 层，USB 设备通常在 sysfs 树的上层
	for i := 0; i < 10; i++ {
		dir = filepath.Dir(dir)
		if dir == "/" || dir == "." {
			break
		}
		if _, err := os.Stat(filepath.Join(dir, "idVendor")); err == nil {
			return dir, true
		}
	}
	return "", false
}

func readFile(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return "unknown"
	}
	return strings.TrimSpace(string(b))
}
