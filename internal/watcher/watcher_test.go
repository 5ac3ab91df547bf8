package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Hara602/usbHeuristic/internal/model"
)

func waitEvent(t *testing.T, ch <-chan model.MountEvent, timeout time.Duration) model.MountEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("event channel closed")
		}
		return ev
	case <-time.After(timeout):
		t.Fatal("timed out waiting for mount event")
	}
	return model.MountEvent{}
}

func expectNoEvent(t *testing.T, ch <-chan model.MountEvent, wait time.Duration) {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if ok {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(wait):
	}
}

func TestPollWatcher_NewDirectories(t *testing.T) {
	parent := t.TempDir()
	if err := os.Mkdir(filepath.Join(parent, "existing"), 0755); err != nil {
		t.Fatal(err)
	}

	w, err := NewDirWatcher(DirOptions{Dir: parent, Mode: ModePoll, PollInterval: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewDirWatcher: %v", err)
	}
	events, err := w.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	// 已存在的目录和普通文件都不触发
	os.WriteFile(filepath.Join(parent, "file.txt"), []byte("x"), 0644)
	expectNoEvent(t, events, 80*time.Millisecond)

	usb := filepath.Join(parent, "USB_STICK")
	if err := os.Mkdir(usb, 0755); err != nil {
		t.Fatal(err)
	}
	ev := waitEvent(t, events, time.Second)
	if ev.Action != "add" || ev.Path != usb || ev.Source != model.SourcePoll {
		t.Errorf("unexpected event: %+v", ev)
	}

	// 拔出后再插入同名设备，应再次触发
	os.Remove(usb)
	time.Sleep(60 * time.Millisecond)
	if err := os.Mkdir(usb, 0755); err != nil {
		t.Fatal(err)
	}
	if ev := waitEvent(t, events, time.Second); ev.Path != usb {
		t.Errorf("expected re-insertion event for %s, got %+v", usb, ev)
	}
}

func TestPollWatcher_MissingDir(t *testing.T) {
	w, _ := NewDirWatcher(DirOptions{Dir: filepath.Join(t.TempDir(), "nope"), Mode: ModePoll})
	if _, err := w.Start(); err == nil {
		t.Error("expected start failure for missing directory")
	}
	if err := w.Stop(); err != nil {
		t.Errorf("Stop after failed Start: %v", err)
	}
}

func TestPollWatcher_StopClosesChannel(t *testing.T) {
	w := newPollWatcher(t.TempDir(), 10*time.Millisecond)
	events, err := w.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	w.Stop()
	w.Stop()
	select {
	case _, ok := <-events:
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Error("channel not closed after Stop")
	}
}

func TestNewDirWatcher_UnknownMode(t *testing.T) {
	if _, err := NewDirWatcher(DirOptions{Dir: t.TempDir(), Mode: "telepathy"}); err == nil {
		t.Error("expected error for unknown mode")
	}
}
