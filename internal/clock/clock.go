// Package clock provides timestamps that never fail. The battery-backed RTC
// is preferred; when it cannot be read the system clock is used if it looks
// set, and as a last resort the uptime is rendered as a date in 1970 so
// samples still sort in acquisition order.
package clock

import (
	"errors"
	"log"
	"time"
)

// ErrWriteFailed is returned by Chain.Set when neither the RTC nor the
// system clock accepted the new time.
var ErrWriteFailed = errors.New("clock: write failed")

// RTC is a real-time clock.
type RTC interface {
	// ReadTime returns the current time and whether the read succeeded.
	ReadTime() (time.Time, bool)

	// WriteTime sets the clock and reports success.
	WriteTime(t time.Time) bool
}

// Origin identifies which source produced a timestamp.
type Origin int

const (
	OriginRTC Origin = iota
	OriginSystem
	OriginUptime
)

func (o Origin) String() string {
	switch o {
	case OriginRTC:
		return "rtc"
	case OriginSystem:
		return "system"
	case OriginUptime:
		return "uptime"
	default:
		return "unknown"
	}
}

// validAfter is the earliest system time trusted as set.
var validAfter = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// Chain resolves the current time through RTC, system clock and uptime.
type Chain struct {
	RTC RTC

	// System returns the system wall clock. Defaults to time.Now.
	System func() time.Time

	// SetSystem sets the system wall clock. Defaults to the platform setter.
	SetSystem func(time.Time) error

	// Uptime returns the time since boot. Defaults to the platform reader.
	Uptime func() time.Duration

	// Location is applied to every returned time. Defaults to time.Local.
	Location *time.Location
}

// NewChain creates a Chain over rtc with platform defaults.
func NewChain(rtc RTC) *Chain {
	return &Chain{RTC: rtc}
}

// Now returns the best available time and where it came from.
func (c *Chain) Now() (time.Time, Origin) {
	loc := c.location()
	if c.RTC != nil {
		if t, ok := c.RTC.ReadTime(); ok {
			return t.In(loc), OriginRTC
		}
	}
	sys := time.Now
	if c.System != nil {
		sys = c.System
	}
	if t := sys(); t.After(validAfter) {
		return t.In(loc), OriginSystem
	}
	up := uptime
	if c.Uptime != nil {
		up = c.Uptime
	}
	// Wall-clock fields, not an instant: render in loc directly.
	return time.Date(1970, 1, 1, 0, 0, 0, 0, loc).Add(up()), OriginUptime
}

// Time is Now without the origin.
func (c *Chain) Time() time.Time {
	t, _ := c.Now()
	return t
}

// Set writes t to the RTC and the system clock. It succeeds when at least
// the RTC write succeeded, since the RTC is what the next boot reads.
func (c *Chain) Set(t time.Time) error {
	rtcOK := c.RTC != nil && c.RTC.WriteTime(t)

	set := setSystemClock
	if c.SetSystem != nil {
		set = c.SetSystem
	}
	if err := set(t); err != nil {
		log.Printf("clock: set system time: %v", err)
	}

	if !rtcOK {
		return ErrWriteFailed
	}
	return nil
}

func (c *Chain) location() *time.Location {
	if c.Location != nil {
		return c.Location
	}
	return time.Local
}
