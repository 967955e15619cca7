// Package logic contains the pure decision functions of the weighing daemon:
// the button gesture machine, the acquisition state priority and the sync
// state transitions.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import "fmt"

// Schedule is the daily dispatch time.
type Schedule struct {
	Hour   int
	Minute int
}

func (s Schedule) String() string {
	return fmt.Sprintf("%02d:%02d", s.Hour, s.Minute)
}

// GestureCounts tracks the number of each gesture since startup.
type GestureCounts struct {
	SingleClick int
	DoubleClick int
	LongPress   int
}

// Add counts g.
func (c *GestureCounts) Add(g Gesture) {
	switch g {
	case GestureSingleClick:
		c.SingleClick++
	case GestureDoubleClick:
		c.DoubleClick++
	case GestureLongPress:
		c.LongPress++
	}
}
