package clock

import (
	"sync"
	"time"
)

// FakeRTC is a test double for RTC.
type FakeRTC struct {
	mu sync.Mutex

	// T is returned by ReadTime while OK is true.
	T  time.Time
	OK bool

	// FailWrite makes WriteTime report failure.
	FailWrite bool

	// Writes records every successful WriteTime.
	Writes []time.Time
}

func (f *FakeRTC) ReadTime() (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.T, f.OK
}

func (f *FakeRTC) WriteTime(t time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWrite {
		return false
	}
	f.Writes = append(f.Writes, t)
	f.T = t
	f.OK = true
	return true
}
