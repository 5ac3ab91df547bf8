//go:build linux

package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Hara602/usbHeuristic/internal/analysis"
	"github.com/Hara602/usbHeuristic/internal/model"
	"github.com/pilebones/go-udev/netlink"
)

func TestInotifyWatcher_DirectoryCreated(t *testing.T) {
	parent := t.TempDir()
	w, err := NewDirWatcher(DirOptions{Dir: parent, Mode: ModeInotify})
	if err != nil {
		t.Fatalf("NewDirWatcher: %v", err)
	}
	events, err := w.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// 普通文件不触发
	os.WriteFile(filepath.Join(parent, "note.txt"), []byte("x"), 0644)
	expectNoEvent(t, events, 100*time.Millisecond)

	first := filepath.Join(parent, "KINGSTON")
	second := filepath.Join(parent, "SANDISK")
	os.Mkdir(first, 0755)
	os.Mkdir(second, 0755)

	for _, want := range []string{first, second} {
		ev := waitEvent(t, events, 2*time.Second)
		if ev.Path != want || ev.Source != model.SourceInotify || ev.Action != "add" {
			t.Errorf("expected add event for %s, got %+v", want, ev)
		}
	}

	if err := w.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
	select {
	case _, ok := <-events:
		if ok {
			t.Error("expected closed channel after Stop")
		}
	case <-time.After(2 * time.Second):
		t.Error("channel not closed after Stop")
	}
}

func TestInotifyWatcher_MissingDir(t *testing.T) {
	w, err := NewDirWatcher(DirOptions{Dir: filepath.Join(t.TempDir(), "nope"), Mode: ModeInotify})
	if err != nil {
		t.Fatalf("NewDirWatcher: %v", err)
	}
	if _, err := w.Start(); err == nil {
		t.Error("expected subscription failure for missing directory")
	}
	if err := w.Stop(); err != nil {
		t.Errorf("Stop after failed Start: %v", err)
	}
}

func TestUdevWatcher_HandleAdd(t *testing.T) {
	sysRoot := t.TempDir()
	usbRoot := filepath.Join(sysRoot, "devices", "usb1", "1-1")
	iface := filepath.Join(usbRoot, "1-1:1.0")
	if err := os.MkdirAll(iface, 0755); err != nil {
		t.Fatal(err)
	}
	for name, value := range map[string]string{
		"idVendor":  "0951",
		"idProduct": "1666",
		"serial":    "ABC123",
		"product":   "DataTraveler",
	} {
		os.WriteFile(filepath.Join(usbRoot, name), []byte(value+"\n"), 0644)
	}
	os.WriteFile(filepath.Join(iface, "bInterfaceClass"), []byte("08\n"), 0644)

	w := NewUdevWatcher(time.Second).(*udevWatcher)
	w.sysRoot = sysRoot
	var waitedFor string
	w.waitForMount = func(dev string, _ time.Duration) string {
		waitedFor = dev
		return "/media/user/DATA"
	}

	w.handleAdd(netlink.UEvent{
		Action: "add",
		Env: map[string]string{
			"SUBSYSTEM": "block",
			"DEVTYPE":   "partition",
			"DEVNAME":   "sdb1",
			"DEVPATH":   "/devices/usb1/1-1/1-1:1.0/host0/target0:0:0/0:0:0:0/block/sdb/sdb1",
		},
	})

	ev := waitEvent(t, w.events, time.Second)
	if waitedFor != "/dev/sdb1" {
		t.Errorf("expected to wait for /dev/sdb1, got %q", waitedFor)
	}
	if ev.Path != "/media/user/DATA" || ev.Source != model.SourceUdev || ev.Device == nil {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.Device.VendorID != "0951" || ev.Device.Serial != "ABC123" || ev.Device.DeviceType != analysis.DeviceUDisk {
		t.Errorf("unexpected device info: %+v", ev.Device)
	}
}

func TestUdevWatcher_IgnoresNonUSB(t *testing.T) {
	w := NewUdevWatcher(time.Second).(*udevWatcher)
	w.sysRoot = t.TempDir()
	w.waitForMount = func(string, time.Duration) string {
		t.Error("non-USB partitions must not wait for a mount")
		return ""
	}
	w.handleAdd(netlink.UEvent{
		Action: "add",
		Env:    map[string]string{"DEVNAME": "nvme0n1p2", "DEVPATH": "/devices/pci0000:00/nvme/nvme0n1/nvme0n1p2"},
	})
	expectNoEvent(t, w.events, 50*time.Millisecond)
}

func TestUdevWatcher_Remove(t *testing.T) {
	w := NewUdevWatcher(time.Second).(*udevWatcher)
	w.handleUdevEvent(netlink.UEvent{
		Action: "remove",
		Env:    map[string]string{"SUBSYSTEM": "block", "DEVTYPE": "partition", "DEVNAME": "/dev/sdb1"},
	})
	ev := waitEvent(t, w.events, time.Second)
	if ev.Action != "remove" || ev.Device.DevicePath != "/dev/sdb1" {
		t.Errorf("unexpected event: %+v", ev)
	}
}
