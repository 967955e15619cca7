//go:build !linux

package clock

import (
	"errors"
	"time"
)

const DefaultDevice = ""

// DeviceRTC is not available on non-Linux platforms.
type DeviceRTC struct {
	Path string
}

// NewDeviceRTC returns an RTC that always fails.
func NewDeviceRTC(path string) *DeviceRTC {
	return &DeviceRTC{Path: path}
}

func (r *DeviceRTC) ReadTime() (time.Time, bool) { return time.Time{}, false }

func (r *DeviceRTC) WriteTime(time.Time) bool { return false }

func setSystemClock(time.Time) error {
	return errors.New("clock: setting system time not supported")
}

var boot = time.Now()

func uptime() time.Duration {
	return time.Since(boot)
}
