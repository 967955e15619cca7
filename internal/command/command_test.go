package command

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/scale-node/internal/clock"
	"github.com/sweeney/scale-node/internal/kv"
	"github.com/sweeney/scale-node/internal/mqtt"
	"github.com/sweeney/scale-node/internal/ota"
	"github.com/sweeney/scale-node/internal/sensor"
	"github.com/sweeney/scale-node/internal/state"
)

type recordingAnnouncer struct {
	mu          sync.Mutex
	statuses    []string
	connections []string
}

func (a *recordingAnnouncer) Status(msg string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.statuses = append(a.statuses, msg)
}

func (a *recordingAnnouncer) Connection(state string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connections = append(a.connections, state)
}

func (a *recordingAnnouncer) last() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.statuses) == 0 {
		return ""
	}
	return a.statuses[len(a.statuses)-1]
}

type fakeCalibrator struct {
	cal   sensor.Calibration
	err   error
	calls int
}

func (c *fakeCalibrator) Weight(ctx context.Context) (sensor.Calibration, error) {
	c.calls++
	return c.cal, c.err
}

type fakeUpdater struct {
	mu        sync.Mutex
	urls      []string
	rollbacks int
	err       error
}

func (u *fakeUpdater) Update(ctx context.Context, url string) (ota.Result, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.urls = append(u.urls, url)
	return ota.Result{Size: 42}, u.err
}

func (u *fakeUpdater) Rollback(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.rollbacks++
	return u.err
}

type fixture struct {
	h        *Handler
	mem      *kv.Memory
	store    *state.Store
	ann      *recordingAnnouncer
	rtc      *clock.FakeRTC
	sysSet   []time.Time
	cal      *fakeCalibrator
	ota      *fakeUpdater
	restarts int
	slept    []time.Duration
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		mem: kv.NewMemory(),
		ann: &recordingAnnouncer{},
		rtc: &clock.FakeRTC{},
		cal: &fakeCalibrator{cal: sensor.Calibration{Offset: 1000, Scale: 500, Calibrated: true}},
		ota: &fakeUpdater{},
	}
	f.store = state.New(state.NewKVPersister(f.mem), 50*time.Millisecond)
	chain := clock.NewChain(f.rtc)
	chain.SetSystem = func(t time.Time) error {
		f.sysSet = append(f.sysSet, t)
		return nil
	}
	f.h = &Handler{
		State:      f.store,
		Announcer:  f.ann,
		Topics:     mqtt.NewTopics(""),
		Calibrator: f.cal,
		Clock:      chain,
		OTA:        f.ota,
		Restart:    func() { f.restarts++ },
		Location:   time.UTC,
		Sleep: func(ctx context.Context, d time.Duration) error {
			f.slept = append(f.slept, d)
			return nil
		},
	}
	return f
}

func (f *fixture) cmd(t *testing.T, payload string) error {
	t.Helper()
	_, err := f.h.Handle(context.Background(), f.h.Topics.Command(), payload)
	return err
}

func (f *fixture) send(t *testing.T, topic, payload string) error {
	t.Helper()
	_, err := f.h.Handle(context.Background(), topic, payload)
	return err
}

func (f *fixture) flags(t *testing.T) state.Flags {
	t.Helper()
	st, err := f.store.Snapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return st.Flags
}

func TestSamplingInterval(t *testing.T) {
	f := newFixture(t)
	topic := f.h.Topics.SetSchedule()

	if err := f.cmd(t, "2"); err != nil {
		t.Fatalf("command 2: %v", err)
	}
	if !f.flags(t).AwaitingSamplingInterval {
		t.Fatal("AwaitingSamplingInterval not set")
	}

	for _, bad := range []string{"500", "abc", "3600001", "-5", ""} {
		if err := f.send(t, topic, bad); !errors.Is(err, ErrInvalidInterval) {
			t.Errorf("%q: got %v, want ErrInvalidInterval", bad, err)
		}
		if !f.flags(t).AwaitingSamplingInterval {
			t.Fatalf("%q cleared the flag", bad)
		}
	}
	if got := f.ann.last(); got != "Error: "+ErrInvalidInterval.Error()+`: ""` {
		t.Errorf("last status = %q", got)
	}

	if err := f.send(t, topic, "5000"); err != nil {
		t.Fatalf("5000: %v", err)
	}
	if f.flags(t).AwaitingSamplingInterval {
		t.Error("flag still set after a valid interval")
	}

	restored := state.New(state.NewKVPersister(f.mem), 0)
	if err := restored.Restore(context.Background()); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	st, _ := restored.Snapshot(context.Background())
	if st.Envio.SamplingIntervalMS != 5000 {
		t.Errorf("restored interval = %d, want 5000", st.Envio.SamplingIntervalMS)
	}
}

func TestSetDateTime(t *testing.T) {
	f := newFixture(t)
	topic := f.h.Topics.SetTime()

	if err := f.send(t, topic, "2024-01-15 10:30:00"); !errors.Is(err, ErrDateTimeNotExpected) {
		t.Errorf("unrequested: got %v, want ErrDateTimeNotExpected", err)
	}
	if err := f.cmd(t, "6"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		payload string
		want    error
	}{
		{"2024-13-40 99:99:99", ErrDateTimeOutOfRange},
		{"2024-02-30 10:00:00", ErrDateTimeOutOfRange},
		{"2019-12-31 23:59:59", ErrDateTimeOutOfRange},
		{"2024-01-15", ErrInvalidDateTimeFormat},
		{"15/01/2024 10:30:00", ErrInvalidDateTimeFormat},
		{"2024-01-15 10:30:00 extra", ErrInvalidDateTimeFormat},
	}
	for _, tt := range tests {
		if err := f.send(t, topic, tt.payload); !errors.Is(err, tt.want) {
			t.Errorf("%q: got %v, want %v", tt.payload, err, tt.want)
		}
		if !f.flags(t).AwaitingDateTime {
			t.Fatalf("%q cleared the flag", tt.payload)
		}
	}
	if len(f.rtc.Writes) != 0 {
		t.Fatal("rejected payload reached the RTC")
	}

	if err := f.send(t, topic, "2024-01-15 10:30:00"); err != nil {
		t.Fatalf("valid date: %v", err)
	}
	want := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	if len(f.rtc.Writes) != 1 || !f.rtc.Writes[0].Equal(want) {
		t.Errorf("RTC writes = %v, want [%v]", f.rtc.Writes, want)
	}
	if len(f.sysSet) != 1 || !f.sysSet[0].Equal(want) {
		t.Errorf("system clock set = %v", f.sysSet)
	}
	if f.flags(t).AwaitingDateTime {
		t.Error("flag still set")
	}
}

func TestClockWriteFailureClearsFlag(t *testing.T) {
	f := newFixture(t)
	f.rtc.FailWrite = true
	_ = f.cmd(t, "6")

	err := f.send(t, f.h.Topics.SetTime(), "2024-01-15 10:30:00")
	if !errors.Is(err, ErrClockWrite) {
		t.Errorf("got %v, want ErrClockWrite", err)
	}
	if f.flags(t).AwaitingDateTime {
		t.Error("flag still set after a write failure")
	}
}

func TestSchedule(t *testing.T) {
	f := newFixture(t)
	topic := f.h.Topics.SetSchedule()

	if err := f.send(t, topic, "18:45"); !errors.Is(err, ErrScheduleNotExpected) {
		t.Errorf("unrequested: got %v, want ErrScheduleNotExpected", err)
	}
	if err := f.cmd(t, "9"); err != nil {
		t.Fatal(err)
	}
	for _, bad := range []string{"24:00", "12:60", "1845", "ab:cd", "12:5", ""} {
		if err := f.send(t, topic, bad); !errors.Is(err, ErrInvalidSchedule) {
			t.Errorf("%q: got %v, want ErrInvalidSchedule", bad, err)
		}
	}
	if !f.flags(t).AwaitingSchedule {
		t.Fatal("malformed schedule cleared the flag")
	}

	if err := f.send(t, topic, "18:45"); err != nil {
		t.Fatalf("18:45: %v", err)
	}
	st, _ := f.store.Snapshot(context.Background())
	if st.Envio.DispatchHour != 18 || st.Envio.DispatchMinute != 45 {
		t.Errorf("dispatch = %02d:%02d", st.Envio.DispatchHour, st.Envio.DispatchMinute)
	}
	if st.Flags.AwaitingSchedule {
		t.Error("flag still set")
	}
	if n := len(f.ann.connections); n == 0 || f.ann.connections[n-1] != mqtt.ConnOn {
		t.Errorf("connections = %v, want ON", f.ann.connections)
	}
}

func TestScheduleTakesPrecedenceOverInterval(t *testing.T) {
	f := newFixture(t)
	_ = f.cmd(t, "2")
	_ = f.cmd(t, "9")
	if err := f.send(t, f.h.Topics.SetSchedule(), "07:00"); err != nil {
		t.Fatal(err)
	}
	fl := f.flags(t)
	if fl.AwaitingSchedule || !fl.AwaitingSamplingInterval {
		t.Errorf("flags = %+v", fl)
	}
}

func TestUnknownCommand(t *testing.T) {
	f := newFixture(t)
	for _, payload := range []string{"5", "abc", "", "100"} {
		err := f.cmd(t, payload)
		if !errors.Is(err, ErrUnknownCommand) {
			t.Errorf("%q: got %v, want ErrUnknownCommand", payload, err)
		}
	}
	_ = f.cmd(t, "5")
	want := "Error: command 5 not recognized. Valid commands: 0,1,2,6,7,8,9,99"
	if got := f.ann.last(); got != want {
		t.Errorf("reply = %q, want %q", got, want)
	}
}

func TestResetDispatchDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.store.MarkDispatched(ctx, 15)

	if err := f.cmd(t, "7"); err != nil {
		t.Fatal(err)
	}
	st, _ := f.store.Snapshot(ctx)
	if st.Envio.LastDispatchDay != state.NoDispatchDay {
		t.Errorf("LastDispatchDay = %d, want -1", st.Envio.LastDispatchDay)
	}
	if len(f.ann.connections) != 1 || f.ann.connections[0] != mqtt.ConnOn {
		t.Errorf("connections = %v", f.ann.connections)
	}
}

func TestCalibrationCommands(t *testing.T) {
	f := newFixture(t)
	if err := f.cmd(t, "1"); err != nil {
		t.Fatal(err)
	}
	fl := f.flags(t)
	if !fl.CalibrationRequested || fl.CalibrationOffsetDone {
		t.Fatalf("flags after 1 = %+v", fl)
	}

	// The sensor task finishes the offset phase.
	_ = f.store.UpdateFlags(context.Background(), func(fl *state.Flags) {
		fl.CalibrationOffsetDone = true
		fl.AwaitingCalibrationWeight = true
	})

	f.cal.err = sensor.ErrFlatScale
	if err := f.cmd(t, "8"); !errors.Is(err, sensor.ErrFlatScale) {
		t.Errorf("got %v, want ErrFlatScale", err)
	}
	if !f.flags(t).AwaitingCalibrationWeight {
		t.Error("failed weight phase cleared the flag")
	}

	f.cal.err = nil
	if err := f.cmd(t, "8"); err != nil {
		t.Fatalf("command 8: %v", err)
	}
	fl = f.flags(t)
	if fl.AwaitingCalibrationWeight || fl.CalibrationRequested {
		t.Errorf("flags after 8 = %+v", fl)
	}
	if n := len(f.ann.connections); n == 0 || f.ann.connections[n-1] != mqtt.ConnOn2 {
		t.Errorf("connections = %v, want ON2", f.ann.connections)
	}
}

func TestRestart(t *testing.T) {
	f := newFixture(t)
	if err := f.cmd(t, "0"); err != nil {
		t.Fatal(err)
	}
	if f.restarts != 1 {
		t.Errorf("restarts = %d, want 1", f.restarts)
	}
	if len(f.slept) != 1 || f.slept[0] != RestartDelay {
		t.Errorf("slept = %v", f.slept)
	}
	if len(f.ann.connections) != 1 || f.ann.connections[0] != mqtt.ConnOff {
		t.Errorf("connections = %v, want OFF", f.ann.connections)
	}
}

func TestOTACommands(t *testing.T) {
	f := newFixture(t)

	if err := f.cmd(t, "99 ftp://example.com/fw.bin"); !errors.Is(err, ota.ErrInvalidURL) {
		t.Errorf("got %v, want ErrInvalidURL", err)
	}
	if err := f.cmd(t, "99"); !errors.Is(err, ota.ErrInvalidURL) {
		t.Errorf("bare 99: got %v, want ErrInvalidURL", err)
	}

	if err := f.cmd(t, "99 https://example.com/fw.bin"); err != nil {
		t.Fatalf("99: %v", err)
	}
	f.h.Wait()
	if len(f.ota.urls) != 1 || f.ota.urls[0] != "https://example.com/fw.bin" {
		t.Errorf("urls = %v", f.ota.urls)
	}
	if f.restarts != 1 {
		t.Errorf("restarts = %d, want 1", f.restarts)
	}

	if err := f.send(t, f.h.Topics.CommandOTA(), "https://example.com/v2.bin"); err != nil {
		t.Fatal(err)
	}
	f.h.Wait()
	if len(f.ota.urls) != 2 {
		t.Errorf("urls = %v", f.ota.urls)
	}

	if err := f.send(t, f.h.Topics.CommandOTA(), "ROLLBACK"); err != nil {
		t.Fatal(err)
	}
	if f.ota.rollbacks != 1 {
		t.Errorf("rollbacks = %d, want 1", f.ota.rollbacks)
	}
}

func TestOTAFailureReported(t *testing.T) {
	f := newFixture(t)
	f.ota.err = errors.New("HTTP 404")
	if err := f.cmd(t, "99 https://example.com/fw.bin"); err != nil {
		t.Fatal(err)
	}
	f.h.Wait()
	if f.restarts != 0 {
		t.Error("restarted after a failed update")
	}
	if got := f.ann.last(); got != "Error: OTA failed: HTTP 404" {
		t.Errorf("last status = %q", got)
	}
}

func TestLockTimeoutSurfaces(t *testing.T) {
	f := newFixture(t)
	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = f.store.UpdateFlags(context.Background(), func(*state.Flags) {
			close(held)
			<-release
		})
	}()
	<-held
	defer close(release)

	if err := f.cmd(t, "2"); !errors.Is(err, state.ErrLockTimeout) {
		t.Errorf("got %v, want ErrLockTimeout", err)
	}
}
