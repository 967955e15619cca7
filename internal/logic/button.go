package logic

import "time"

// ButtonState is the state of the button gesture machine.
type ButtonState int

const (
	ButtonIdle ButtonState = iota
	ButtonDebounce
	ButtonPressed
	ButtonLongPress
	ButtonReleaseWait
	ButtonDoubleClickWait
)

func (s ButtonState) String() string {
	switch s {
	case ButtonIdle:
		return "idle"
	case ButtonDebounce:
		return "debounce"
	case ButtonPressed:
		return "pressed"
	case ButtonLongPress:
		return "long_press"
	case ButtonReleaseWait:
		return "release_wait"
	case ButtonDoubleClickWait:
		return "double_click_wait"
	default:
		return "unknown"
	}
}

// Gesture is a classified button gesture.
type Gesture int

const (
	GestureNone Gesture = iota
	GestureSingleClick
	GestureDoubleClick
	GestureLongPress
)

func (g Gesture) String() string {
	switch g {
	case GestureSingleClick:
		return "SINGLE_CLICK"
	case GestureDoubleClick:
		return "DOUBLE_CLICK"
	case GestureLongPress:
		return "LONG_PRESS"
	default:
		return "NONE"
	}
}

// ButtonTiming holds the gesture thresholds.
type ButtonTiming struct {
	Poll        time.Duration
	Debounce    time.Duration
	LongPress   time.Duration
	DoubleClick time.Duration
	Settle      time.Duration
}

// DefaultButtonTiming returns the standard thresholds.
func DefaultButtonTiming() ButtonTiming {
	return ButtonTiming{
		Poll:        50 * time.Millisecond,
		Debounce:    100 * time.Millisecond,
		LongPress:   5 * time.Second,
		DoubleClick: time.Second,
		Settle:      100 * time.Millisecond,
	}
}

// Button is the gesture state machine. Step is the transition function;
// Take consumes whatever gesture the transitions produced.
type Button struct {
	State           ButtonState
	PressStart      time.Time
	LastRelease     time.Time
	ClickCount      int
	LongPressFlag   bool
	DoubleClickFlag bool

	timing ButtonTiming
}

// NewButton creates an idle Button.
func NewButton(timing ButtonTiming) *Button {
	return &Button{timing: timing}
}

// Process applies one poll sample and returns the gesture to dispatch, if any.
func (b *Button) Process(pressed bool, now time.Time) Gesture {
	b.Step(pressed, now)
	return b.Take()
}

// Step applies one poll sample. It never performs side effects.
func (b *Button) Step(pressed bool, now time.Time) {
	switch b.State {
	case ButtonIdle:
		if pressed {
			b.State = ButtonDebounce
			b.PressStart = now
			b.LongPressFlag = false
			b.DoubleClickFlag = false
		}

	case ButtonDebounce:
		if !pressed {
			b.State = ButtonIdle
		} else if now.Sub(b.PressStart) >= b.timing.Debounce {
			b.State = ButtonPressed
			b.PressStart = now
		}

	case ButtonPressed:
		held := now.Sub(b.PressStart)
		if !pressed {
			b.LastRelease = now
			b.State = ButtonReleaseWait
			if held < b.timing.LongPress {
				b.ClickCount++
				switch b.ClickCount {
				case 1:
					b.State = ButtonDoubleClickWait
				default:
					b.DoubleClickFlag = true
					b.ClickCount = 0
				}
			}
		} else if held >= b.timing.LongPress {
			b.State = ButtonLongPress
			b.LongPressFlag = true
			b.ClickCount = 0
		}

	case ButtonLongPress:
		if !pressed {
			b.State = ButtonReleaseWait
			b.LastRelease = now
		}

	case ButtonReleaseWait:
		if now.Sub(b.LastRelease) >= b.timing.Settle {
			b.State = ButtonIdle
		}

	case ButtonDoubleClickWait:
		if pressed {
			// Second click: time it through debounce like the first.
			b.State = ButtonDebounce
			b.PressStart = now
		} else if now.Sub(b.LastRelease) >= b.timing.DoubleClick {
			b.State = ButtonIdle
		}

	default:
		b.State = ButtonIdle
	}
}

// Take consumes the pending gesture. Each flag is reported exactly once.
// A single click is only reported once the machine is back at Idle with no
// second click in progress.
func (b *Button) Take() Gesture {
	switch {
	case b.LongPressFlag:
		b.LongPressFlag = false
		return GestureLongPress
	case b.DoubleClickFlag:
		b.DoubleClickFlag = false
		return GestureDoubleClick
	case b.ClickCount == 1 && b.State == ButtonIdle:
		b.ClickCount = 0
		return GestureSingleClick
	}
	return GestureNone
}
