package logic

import "time"

// SyncState is the state of the network sync task.
type SyncState int

const (
	SyncAwaitInit SyncState = iota
	SyncAwaitDispatchWindow
	SyncConnectingWifi
	SyncConnectingBroker
	SyncSending
	SyncFinalizing
	SyncBackoffWait
)

func (s SyncState) String() string {
	switch s {
	case SyncAwaitInit:
		return "await_init"
	case SyncAwaitDispatchWindow:
		return "await_dispatch_window"
	case SyncConnectingWifi:
		return "connecting_wifi"
	case SyncConnectingBroker:
		return "connecting_broker"
	case SyncSending:
		return "sending"
	case SyncFinalizing:
		return "finalizing"
	case SyncBackoffWait:
		return "backoff_wait"
	default:
		return "unknown"
	}
}

// SyncEvent is the outcome of a sync state's action.
type SyncEvent int

const (
	SyncEventNone SyncEvent = iota
	SyncEventReady
	SyncEventDue
	SyncEventConnected
	SyncEventFailed
	SyncEventDone
)

func (e SyncEvent) String() string {
	switch e {
	case SyncEventReady:
		return "ready"
	case SyncEventDue:
		return "due"
	case SyncEventConnected:
		return "connected"
	case SyncEventFailed:
		return "failed"
	case SyncEventDone:
		return "done"
	default:
		return "none"
	}
}

// NextSyncState is the sync transition function. Events that do not apply
// to a state leave it unchanged.
func NextSyncState(s SyncState, e SyncEvent) SyncState {
	switch s {
	case SyncAwaitInit:
		if e == SyncEventReady {
			return SyncAwaitDispatchWindow
		}
	case SyncAwaitDispatchWindow:
		if e == SyncEventDue {
			return SyncConnectingWifi
		}
	case SyncConnectingWifi:
		switch e {
		case SyncEventConnected:
			return SyncConnectingBroker
		case SyncEventFailed:
			return SyncBackoffWait
		}
	case SyncConnectingBroker:
		switch e {
		case SyncEventConnected:
			return SyncSending
		case SyncEventFailed:
			return SyncBackoffWait
		}
	case SyncSending:
		switch e {
		case SyncEventDone:
			return SyncFinalizing
		case SyncEventFailed:
			return SyncBackoffWait
		}
	case SyncFinalizing:
		if e == SyncEventDone {
			return SyncAwaitDispatchWindow
		}
	case SyncBackoffWait:
		if e == SyncEventDone {
			return SyncAwaitDispatchWindow
		}
	}
	return s
}

// DispatchEligible reports whether a dispatch pass may start at now: it is
// a different day of the month than lastDay and the time of day has reached
// the schedule.
func DispatchEligible(now time.Time, lastDay int, sched Schedule) bool {
	if now.Day() == lastDay {
		return false
	}
	h, m := now.Hour(), now.Minute()
	return h > sched.Hour || (h == sched.Hour && m >= sched.Minute)
}

// DispatchCutoff is today's scheduled dispatch instant in now's location.
// Records stamped after it wait for the next pass; the cutoff is inclusive.
func DispatchCutoff(now time.Time, sched Schedule) time.Time {
	y, mo, d := now.Date()
	return time.Date(y, mo, d, sched.Hour, sched.Minute, 0, 0, now.Location())
}
