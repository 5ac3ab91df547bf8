package model

import "time"

// 挂载事件来源
const (
	SourceInitial = "initial" // 启动时已存在的挂载点
	SourceInotify = "inotify"
	SourcePoll    = "poll"
	SourceUdev    = "udev"
	SourceRescan  = "rescan" // 定时重扫
)

// USBDevice 硬件信息，仅 udev 来源会填充
type USBDevice struct {
	DevicePath string // e.g., /dev/sdb1
	VendorID   string
	ProductID  string
	Product    string
	Serial     string
	DeviceType string // "udisk", "BADUSB_SUSPECT", "other"
}

// MountEvent 新挂载点出现(或消失)的通知
type MountEvent struct {
	Action    string // "add", "remove"
	Path      string // e.g., /media/usb
	Source    string
	Device    *USBDevice
	TimeStamp time.Time
}
