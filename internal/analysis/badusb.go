package analysis

import (
	"os"
	"path/filepath"
	"strings"
)

// udev 来源的设备类型
const (
	DeviceUDisk         = "udisk"
	DeviceBadUSBSuspect = "BADUSB_SUSPECT"
	DeviceOther         = "other"
	DeviceUnknown       = "unknown"
)

// USB 接口类代码 (bInterfaceClass)
const (
	interfaceClassHID     = "03"
	interfaceClassStorage = "08"
)

// ClassifyDevice 读取 sysfs 下 USB 设备的各接口类型
// 同时拥有 08(存储) 和 03(HID) 接口，判定为 BadUSB 嫌疑
func ClassifyDevice(usbRoot string) (bool, string) {
	entries, err := os.ReadDir(usbRoot)
	if err != nil {
		return false, DeviceUnknown
	}
	hasStorage, hasHID := false, false
	for _, e := range entries {
		// 接口目录形如 1-1:1.0
		if !strings.Contains(e.Name(), ":") {
			continue
		}
		content, err := os.ReadFile(filepath.Join(usbRoot, e.Name(), "bInterfaceClass"))
		if err != nil {
			continue
		}
		switch strings.TrimSpace(string(content)) {
		case interfaceClassHID:
			hasHID = true
		case interfaceClassStorage:
			hasStorage = true
		}
	}
	switch {
	case hasStorage && hasHID:
		return true, DeviceBadUSBSuspect
	case hasStorage:
		return false, DeviceUDisk
	}
	return false, DeviceOther
}
