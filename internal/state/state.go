// Package state holds the single shared SystemState record that coordinates
// the acquisition task, the sync task, the command handler and the button
// actions. Every access goes through a bounded-wait lock; a caller that
// cannot get the lock in time receives ErrLockTimeout instead of blocking.
package state

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors.
var (
	ErrLockTimeout      = errors.New("state: lock timeout")
	ErrCursorRegression = errors.New("state: cursor cannot move backwards")
	ErrIntervalRange    = errors.New("state: sampling interval out of range")
	ErrScheduleRange    = errors.New("state: dispatch time out of range")
)

// Sampling interval bounds and default, in milliseconds.
const (
	MinSamplingMS     uint32 = 1000
	MaxSamplingMS     uint32 = 3600000
	DefaultSamplingMS uint32 = 10000
)

// DefaultLockWait is the bounded wait used by callers outside the owning tasks.
const DefaultLockWait = time.Second

// NoDispatchDay forces the next eligible dispatch.
const NoDispatchDay = -1

// Envio is the dispatch and sampling configuration plus the sync cursor.
type Envio struct {
	LastSentIndex      uint32
	LastDispatchDay    int
	DispatchHour       int
	DispatchMinute     int
	SamplingIntervalMS uint32
}

// Flags are the transient coordination flags.
type Flags struct {
	SystemReady               bool
	AwaitingCommand           bool
	AwaitingSamplingInterval  bool
	CalibrationRequested      bool
	CalibrationOffsetDone     bool
	AwaitingCalibrationWeight bool
	AwaitingDateTime          bool
	AwaitingSchedule          bool
	ManualConnectionActive    bool
}

// State is a value copy of the shared record.
type State struct {
	Envio Envio
	Flags Flags
}

// Persister writes the durable subset of State.
type Persister interface {
	LoadEnvio(ctx context.Context) (Envio, error)
	SaveCursor(ctx context.Context, index uint32) error
	SaveDispatchTime(ctx context.Context, hour, minute int) error
	SaveSamplingInterval(ctx context.Context, ms uint32) error
}

// Store guards the shared State.
type Store struct {
	sem     chan struct{}
	st      State
	persist Persister
	wait    time.Duration
}

// New creates a Store with default values. wait is the bounded lock wait;
// zero selects DefaultLockWait. persist may be nil (nothing is saved).
func New(persist Persister, wait time.Duration) *Store {
	if wait <= 0 {
		wait = DefaultLockWait
	}
	return &Store{
		sem:     make(chan struct{}, 1),
		persist: persist,
		wait:    wait,
		st: State{Envio: Envio{
			LastDispatchDay:    NoDispatchDay,
			SamplingIntervalMS: DefaultSamplingMS,
		}},
	}
}

func (s *Store) lock(ctx context.Context) error {
	t := time.NewTimer(s.wait)
	defer t.Stop()
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-t.C:
		return ErrLockTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) unlock() {
	<-s.sem
}

// Restore loads persisted fields. Missing values keep their defaults; a
// persisted sampling interval outside the bounds is ignored.
func (s *Store) Restore(ctx context.Context) error {
	if s.persist == nil {
		return nil
	}
	e, err := s.persist.LoadEnvio(ctx)
	if err != nil {
		return fmt.Errorf("restore state: %w", err)
	}
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.unlock()
	s.st.Envio.LastSentIndex = e.LastSentIndex
	if validSchedule(e.DispatchHour, e.DispatchMinute) {
		s.st.Envio.DispatchHour = e.DispatchHour
		s.st.Envio.DispatchMinute = e.DispatchMinute
	}
	if e.SamplingIntervalMS != 0 && validInterval(e.SamplingIntervalMS) {
		s.st.Envio.SamplingIntervalMS = e.SamplingIntervalMS
	}
	return nil
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot(ctx context.Context) (State, error) {
	if err := s.lock(ctx); err != nil {
		return State{}, err
	}
	defer s.unlock()
	return s.st, nil
}

// UpdateFlags mutates the transient flags under the lock.
func (s *Store) UpdateFlags(ctx context.Context, fn func(*Flags)) error {
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.unlock()
	fn(&s.st.Flags)
	return nil
}

// SetSamplingInterval validates, persists and applies a new interval.
// The in-memory value only changes once persistence succeeded.
func (s *Store) SetSamplingInterval(ctx context.Context, ms uint32) error {
	if !validInterval(ms) {
		return fmt.Errorf("%w: %d", ErrIntervalRange, ms)
	}
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.unlock()
	if s.persist != nil {
		if err := s.persist.SaveSamplingInterval(ctx, ms); err != nil {
			return fmt.Errorf("persist sampling interval: %w", err)
		}
	}
	s.st.Envio.SamplingIntervalMS = ms
	return nil
}

// SetDispatchTime validates, persists and applies the daily dispatch time.
func (s *Store) SetDispatchTime(ctx context.Context, hour, minute int) error {
	if !validSchedule(hour, minute) {
		return fmt.Errorf("%w: %d:%d", ErrScheduleRange, hour, minute)
	}
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.unlock()
	if s.persist != nil {
		if err := s.persist.SaveDispatchTime(ctx, hour, minute); err != nil {
			return fmt.Errorf("persist dispatch time: %w", err)
		}
	}
	s.st.Envio.DispatchHour = hour
	s.st.Envio.DispatchMinute = minute
	return nil
}

// AdvanceCursor moves LastSentIndex to index and persists it. Moving
// backwards is rejected; moving to the same index is a no-op.
func (s *Store) AdvanceCursor(ctx context.Context, index uint32) error {
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.unlock()
	cur := s.st.Envio.LastSentIndex
	if index < cur {
		return fmt.Errorf("%w: %d < %d", ErrCursorRegression, index, cur)
	}
	if index == cur {
		return nil
	}
	s.st.Envio.LastSentIndex = index
	if s.persist != nil {
		if err := s.persist.SaveCursor(ctx, index); err != nil {
			// The in-memory cursor stays advanced: the record was delivered.
			return fmt.Errorf("persist cursor: %w", err)
		}
	}
	return nil
}

// CommitCursor persists the current cursor again.
func (s *Store) CommitCursor(ctx context.Context) error {
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.unlock()
	if s.persist == nil {
		return nil
	}
	return s.persist.SaveCursor(ctx, s.st.Envio.LastSentIndex)
}

// MarkDispatched stamps day as the last dispatch day.
func (s *Store) MarkDispatched(ctx context.Context, day int) error {
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.unlock()
	s.st.Envio.LastDispatchDay = day
	return nil
}

// ResetDispatchDay forces the next eligible dispatch.
func (s *Store) ResetDispatchDay(ctx context.Context) error {
	return s.MarkDispatched(ctx, NoDispatchDay)
}

func validInterval(ms uint32) bool {
	return ms >= MinSamplingMS && ms <= MaxSamplingMS
}

func validSchedule(hour, minute int) bool {
	return hour >= 0 && hour <= 23 && minute >= 0 && minute <= 59
}
