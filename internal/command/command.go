// Package command implements the operator protocol: numeric codes on the
// command topic, plus the payload topics that answer them.
package command

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sweeney/scale-node/internal/backoff"
	"github.com/sweeney/scale-node/internal/logic"
	"github.com/sweeney/scale-node/internal/mqtt"
	"github.com/sweeney/scale-node/internal/ota"
	"github.com/sweeney/scale-node/internal/sensor"
	"github.com/sweeney/scale-node/internal/state"
	"github.com/sweeney/scale-node/internal/status"
)

// Command codes.
const (
	CodeRestart     = 0
	CodeCalibrate   = 1
	CodeSampling    = 2
	CodeSetDateTime = 6
	CodeResetDay    = 7
	CodeCalibWeight = 8
	CodeSchedule    = 9
	CodeOTA         = 99
)

// ValidCodes is quoted in the unknown-command reply.
const ValidCodes = "0,1,2,6,7,8,9,99"

// RestartDelay lets the restart announcement reach the broker.
const RestartDelay = time.Second

// Payload validation errors. The text is published to the operator.
var (
	ErrInvalidSchedule       = errors.New("invalid dispatch time, use HH:MM (24h)")
	ErrInvalidInterval       = errors.New("invalid sampling interval, use a value between 1000 and 3600000 ms")
	ErrScheduleNotExpected   = errors.New("no schedule or sampling interval was requested")
	ErrInvalidDateTimeFormat = errors.New("invalid date/time format, use YYYY-MM-DD HH:MM:SS")
	ErrDateTimeOutOfRange    = errors.New("date/time out of range")
	ErrClockWrite            = errors.New("could not write date/time to the RTC")
	ErrDateTimeNotExpected   = errors.New("no date/time was requested")
	ErrUnknownCommand        = errors.New("command not recognized")
	ErrOTAUnavailable        = errors.New("firmware updates are not configured")
)

// UnknownCommandError is returned for codes outside ValidCodes.
type UnknownCommandError struct {
	Code string
}

func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("command %s not recognized. Valid commands: %s", e.Code, ValidCodes)
}

func (e *UnknownCommandError) Is(target error) bool { return target == ErrUnknownCommand }

// Announcer publishes operator feedback.
type Announcer interface {
	Status(msg string)
	Connection(state string)
}

// Calibrator runs the known-mass phase of calibration.
type Calibrator interface {
	Weight(ctx context.Context) (sensor.Calibration, error)
}

// Clock sets the RTC and the system clock.
type Clock interface {
	Set(t time.Time) error
}

// Updater installs or rolls back firmware.
type Updater interface {
	Update(ctx context.Context, url string) (ota.Result, error)
	Rollback(ctx context.Context) error
}

// Handler applies commands to the shared state. It is driven by a single
// Router worker; the OTA download is the only work it runs in the
// background.
type Handler struct {
	State      *state.Store
	Announcer  Announcer
	Topics     mqtt.Topics
	Calibrator Calibrator
	Clock      Clock
	OTA        Updater
	Tracker    *status.Tracker

	// Restart ends the process so the supervisor restarts it.
	Restart func()

	// Location interprets set_time payloads. Defaults to time.Local.
	Location *time.Location

	Sleep backoff.SleepFunc

	wg sync.WaitGroup
}

// Wait blocks until background work started by Handle finishes.
func (h *Handler) Wait() { h.wg.Wait() }

func (h *Handler) sleep(ctx context.Context, d time.Duration) error {
	if h.Sleep != nil {
		return h.Sleep(ctx, d)
	}
	return backoff.Sleep(ctx, d)
}

// reply collects the status lines published while handling a message.
type reply struct {
	ann   Announcer
	lines []string
}

func (r *reply) say(msg string) {
	r.lines = append(r.lines, msg)
	if r.ann != nil {
		r.ann.Status(msg)
	}
}

func (r *reply) connection(state string) {
	if r.ann != nil {
		r.ann.Connection(state)
	}
}

// Handle processes one inbound message. Status lines are published as
// they are produced and returned joined; an error is also published as
// "Error: ...".
func (h *Handler) Handle(ctx context.Context, topic, payload string) (string, error) {
	r := &reply{ann: h.Announcer}
	payload = strings.TrimSpace(payload)

	var err error
	switch topic {
	case h.Topics.Command():
		err = h.command(ctx, r, payload)
	case h.Topics.CommandOTA():
		err = h.otaCommand(ctx, r, payload)
	case h.Topics.SetSchedule():
		err = h.setSchedule(ctx, r, payload)
	case h.Topics.SetTime():
		err = h.setTime(ctx, r, payload)
	default:
		log.Printf("command: ignoring topic %s", topic)
		return "", nil
	}
	if err != nil {
		log.Printf("command: %s %q: %v", topic, payload, err)
		r.say("Error: " + err.Error())
	}
	h.mirror(ctx)
	return strings.Join(r.lines, "\n"), err
}

func (h *Handler) command(ctx context.Context, r *reply, payload string) error {
	fields := strings.Fields(payload)
	if len(fields) == 0 {
		return &UnknownCommandError{Code: strconv.Quote(payload)}
	}
	code, err := strconv.Atoi(fields[0])
	if err != nil {
		return &UnknownCommandError{Code: strconv.Quote(fields[0])}
	}
	log.Printf("command: code %d", code)

	switch code {
	case CodeRestart:
		r.connection(mqtt.ConnOff)
		r.say("restarting")
		if err := h.sleep(ctx, RestartDelay); err != nil {
			return err
		}
		if h.Restart != nil {
			h.Restart()
		}
		return nil

	case CodeCalibrate:
		err := h.State.UpdateFlags(ctx, func(f *state.Flags) {
			f.CalibrationRequested = true
			f.CalibrationOffsetDone = false
			f.AwaitingCalibrationWeight = false
		})
		if err != nil {
			return err
		}
		r.say("calibrating")
		return nil

	case CodeSampling:
		if err := h.State.UpdateFlags(ctx, func(f *state.Flags) { f.AwaitingSamplingInterval = true }); err != nil {
			return err
		}
		r.say("Send the sampling interval in milliseconds to " + h.Topics.SetSchedule())
		return nil

	case CodeSetDateTime:
		if err := h.State.UpdateFlags(ctx, func(f *state.Flags) { f.AwaitingDateTime = true }); err != nil {
			return err
		}
		r.say("Send the date and time as YYYY-MM-DD HH:MM:SS to " + h.Topics.SetTime())
		return nil

	case CodeResetDay:
		if err := h.State.ResetDispatchDay(ctx); err != nil {
			return err
		}
		r.say("daily dispatch record reset")
		r.connection(mqtt.ConnOn)
		return nil

	case CodeCalibWeight:
		return h.calibrateWeight(ctx, r)

	case CodeSchedule:
		if err := h.State.UpdateFlags(ctx, func(f *state.Flags) { f.AwaitingSchedule = true }); err != nil {
			return err
		}
		r.say("Send the dispatch time as HH:MM (24h) to " + h.Topics.SetSchedule())
		return nil

	case CodeOTA:
		if len(fields) < 2 {
			return ota.ErrInvalidURL
		}
		return h.startUpdate(ctx, r, fields[1])
	}
	return &UnknownCommandError{Code: strconv.Itoa(code)}
}

func (h *Handler) calibrateWeight(ctx context.Context, r *reply) error {
	if h.Calibrator == nil {
		return sensor.ErrNoOffset
	}
	cal, err := h.Calibrator.Weight(ctx)
	if err != nil {
		return fmt.Errorf("calibration failed: %w", err)
	}
	err = h.State.UpdateFlags(ctx, func(f *state.Flags) {
		f.AwaitingCalibrationWeight = false
		f.CalibrationRequested = false
	})
	if err != nil {
		return err
	}
	r.say(fmt.Sprintf("Calibration saved: offset %d, scale %.2f", cal.Offset, cal.Scale))
	r.connection(mqtt.ConnOn2)
	return nil
}

func (h *Handler) otaCommand(ctx context.Context, r *reply, payload string) error {
	if payload == "ROLLBACK" || payload == "rollback" {
		if h.OTA == nil {
			return ota.ErrNoBackup
		}
		r.say("rolling back to the previous firmware")
		if err := h.OTA.Rollback(ctx); err != nil {
			return fmt.Errorf("rollback: %w", err)
		}
		r.say("rollback complete, restarting")
		if h.Restart != nil {
			h.Restart()
		}
		return nil
	}
	return h.startUpdate(ctx, r, payload)
}

// startUpdate validates url and runs the download in the background.
func (h *Handler) startUpdate(ctx context.Context, r *reply, url string) error {
	if err := ota.ValidateURL(url); err != nil {
		return err
	}
	if h.OTA == nil {
		return ErrOTAUnavailable
	}
	r.say("OTA update started: " + url)
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		res, err := h.OTA.Update(ctx, url)
		if err != nil {
			log.Printf("command: ota: %v", err)
			h.announce("Error: OTA failed: " + err.Error())
			return
		}
		h.announce(fmt.Sprintf("OTA update installed (%d bytes), restarting", res.Size))
		if h.Restart != nil {
			h.Restart()
		}
	}()
	return nil
}

func (h *Handler) announce(msg string) {
	if h.Announcer != nil {
		h.Announcer.Status(msg)
	}
}

func (h *Handler) setSchedule(ctx context.Context, r *reply, payload string) error {
	st, err := h.State.Snapshot(ctx)
	if err != nil {
		return err
	}
	switch {
	case st.Flags.AwaitingSchedule:
		hour, minute, ok := parseHHMM(payload)
		if !ok {
			return fmt.Errorf("%w: %q", ErrInvalidSchedule, payload)
		}
		if err := h.State.SetDispatchTime(ctx, hour, minute); err != nil {
			if errors.Is(err, state.ErrScheduleRange) {
				return fmt.Errorf("%w: %q", ErrInvalidSchedule, payload)
			}
			return err
		}
		if err := h.State.UpdateFlags(ctx, func(f *state.Flags) { f.AwaitingSchedule = false }); err != nil {
			return err
		}
		r.say(fmt.Sprintf("Dispatch time set to %02d:%02d", hour, minute))
		r.say("system resumed after schedule change")
		r.connection(mqtt.ConnOn)
		return nil

	case st.Flags.AwaitingSamplingInterval:
		ms, err := strconv.ParseUint(payload, 10, 32)
		if err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidInterval, payload)
		}
		if err := h.State.SetSamplingInterval(ctx, uint32(ms)); err != nil {
			if errors.Is(err, state.ErrIntervalRange) {
				return fmt.Errorf("%w: %q", ErrInvalidInterval, payload)
			}
			return err
		}
		if err := h.State.UpdateFlags(ctx, func(f *state.Flags) { f.AwaitingSamplingInterval = false }); err != nil {
			return err
		}
		r.say(fmt.Sprintf("Sampling interval set to %d ms", ms))
		r.say("system resumed after sampling change")
		return nil
	}
	return ErrScheduleNotExpected
}

// parseHHMM accepts H:MM or HH:MM with hour 0-23 and minute 0-59.
func parseHHMM(s string) (hour, minute int, ok bool) {
	hs, ms, found := strings.Cut(s, ":")
	if !found || len(hs) == 0 || len(hs) > 2 || len(ms) != 2 {
		return 0, 0, false
	}
	hour, err := strconv.Atoi(hs)
	if err != nil {
		return 0, 0, false
	}
	minute, err = strconv.Atoi(ms)
	if err != nil {
		return 0, 0, false
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, false
	}
	return hour, minute, true
}

func (h *Handler) setTime(ctx context.Context, r *reply, payload string) error {
	st, err := h.State.Snapshot(ctx)
	if err != nil {
		return err
	}
	if !st.Flags.AwaitingDateTime {
		return ErrDateTimeNotExpected
	}

	t, err := h.parseDateTime(payload)
	if err != nil {
		return err
	}

	var werr error
	if h.Clock == nil {
		werr = ErrClockWrite
	} else if err := h.Clock.Set(t); err != nil {
		werr = fmt.Errorf("%w: %v", ErrClockWrite, err)
	}
	// A write failure still releases the flag so acquisition resumes.
	if err := h.State.UpdateFlags(ctx, func(f *state.Flags) { f.AwaitingDateTime = false }); err != nil {
		return err
	}
	if werr != nil {
		return werr
	}
	log.Printf("command: clock set to %s", t.Format(time.DateTime))
	r.say("Date and time saved to the RTC")
	r.say("system resumed after date/time change")
	return nil
}

func (h *Handler) parseDateTime(s string) (time.Time, error) {
	var y, mo, d, hh, mm, ss int
	var rest string
	n, _ := fmt.Sscanf(s, "%d-%d-%d %d:%d:%d%s", &y, &mo, &d, &hh, &mm, &ss, &rest)
	if n != 6 {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDateTimeFormat, s)
	}
	if y < 2020 || y > 2099 || mo < 1 || mo > 12 || d < 1 || d > daysIn(y, mo) ||
		hh < 0 || hh > 23 || mm < 0 || mm > 59 || ss < 0 || ss > 59 {
		return time.Time{}, fmt.Errorf("%w: %q", ErrDateTimeOutOfRange, s)
	}
	loc := h.Location
	if loc == nil {
		loc = time.Local
	}
	return time.Date(y, time.Month(mo), d, hh, mm, ss, 0, loc), nil
}

func daysIn(year, month int) int {
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func (h *Handler) mirror(ctx context.Context) {
	if h.Tracker == nil {
		return
	}
	st, err := h.State.Snapshot(ctx)
	if err != nil {
		return
	}
	e := st.Envio
	h.Tracker.SetEnvio(e.LastSentIndex, logic.Schedule{Hour: e.DispatchHour, Minute: e.DispatchMinute}, e.SamplingIntervalMS)
}
