//go:build linux

package clock

import (
	"log"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultDevice is the kernel RTC character device.
const DefaultDevice = "/dev/rtc0"

// DeviceRTC reads and writes the RTC through the kernel rtc ioctls. The RTC
// holds UTC.
type DeviceRTC struct {
	Path string
}

// NewDeviceRTC creates a DeviceRTC for path (DefaultDevice if empty).
func NewDeviceRTC(path string) *DeviceRTC {
	if path == "" {
		path = DefaultDevice
	}
	return &DeviceRTC{Path: path}
}

func (r *DeviceRTC) ReadTime() (time.Time, bool) {
	fd, err := unix.Open(r.Path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return time.Time{}, false
	}
	defer unix.Close(fd)

	rt, err := unix.IoctlGetRTCTime(fd)
	if err != nil {
		return time.Time{}, false
	}
	t := time.Date(int(rt.Year)+1900, time.Month(rt.Mon+1), int(rt.Mday),
		int(rt.Hour), int(rt.Min), int(rt.Sec), 0, time.UTC)
	if t.Before(validAfter) {
		// Lost power: the chip restarts at its epoch.
		return time.Time{}, false
	}
	return t, true
}

func (r *DeviceRTC) WriteTime(t time.Time) bool {
	fd, err := unix.Open(r.Path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		log.Printf("clock: open %s: %v", r.Path, err)
		return false
	}
	defer unix.Close(fd)

	u := t.UTC()
	rt := &unix.RTCTime{
		Sec:  int32(u.Second()),
		Min:  int32(u.Minute()),
		Hour: int32(u.Hour()),
		Mday: int32(u.Day()),
		Mon:  int32(u.Month()) - 1,
		Year: int32(u.Year()) - 1900,
		Wday: int32(u.Weekday()),
		Yday: int32(u.YearDay()) - 1,
	}
	if err := unix.IoctlSetRTCTime(fd, rt); err != nil {
		log.Printf("clock: set rtc: %v", err)
		return false
	}
	return true
}

func setSystemClock(t time.Time) error {
	tv := unix.NsecToTimeval(t.UnixNano())
	return unix.Settimeofday(&tv)
}

func uptime() time.Duration {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0
	}
	return time.Duration(info.Uptime) * time.Second
}
