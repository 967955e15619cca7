package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sweeney/scale-node/internal/battery"
	"github.com/sweeney/scale-node/internal/clock"
	"github.com/sweeney/scale-node/internal/command"
	"github.com/sweeney/scale-node/internal/connection"
	"github.com/sweeney/scale-node/internal/dispatch"
	"github.com/sweeney/scale-node/internal/gpio"
	"github.com/sweeney/scale-node/internal/journal"
	"github.com/sweeney/scale-node/internal/kv"
	"github.com/sweeney/scale-node/internal/logic"
	"github.com/sweeney/scale-node/internal/mqtt"
	"github.com/sweeney/scale-node/internal/ota"
	"github.com/sweeney/scale-node/internal/provision"
	"github.com/sweeney/scale-node/internal/sensor"
	"github.com/sweeney/scale-node/internal/state"
	"github.com/sweeney/scale-node/internal/status"
	"github.com/sweeney/scale-node/internal/telemetry"
	"github.com/sweeney/scale-node/internal/web"
	"github.com/sweeney/scale-node/internal/wifi"
)

// errRestart is returned by run when a command or new credentials asked
// for a restart.
var errRestart = errors.New("restart requested")

// restarter cancels the run context once and remembers that it did.
type restarter struct {
	cancel    context.CancelFunc
	requested atomic.Bool
}

func (r *restarter) Restart() {
	if r.requested.CompareAndSwap(false, true) {
		log.Printf("restart requested")
		r.cancel()
	}
}

// openStore opens the on-disk store, falling back to memory so the node
// still weighs and serves status when the card is unusable.
func openStore(dir string) kv.Store {
	store, err := kv.NewBadger(kv.BadgerOptions{Dir: dir})
	if err != nil {
		log.Printf("kv: %v, settings will not survive a restart", err)
		return kv.NewMemory()
	}
	return store
}

func run(cfg Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	restart := &restarter{cancel: cancel}

	store := openStore(cfg.Storage.KVDir)
	defer store.Close()

	st := state.New(state.NewKVPersister(store), state.DefaultLockWait)
	if err := st.Restore(ctx); err != nil {
		log.Printf("state: %v, using defaults", err)
	}
	if err := seedDefaults(ctx, store, st, cfg); err != nil {
		log.Printf("state: seed defaults: %v", err)
	}

	clk := clock.NewChain(clock.NewDeviceRTC(clock.DefaultDevice))
	now, origin := clk.Now()
	log.Printf("clock: %s from %s", now.Format(time.RFC3339), origin)

	hx, err := sensor.NewHX711(cfg.GPIO.Chip, cfg.GPIO.HX711DOUT, cfg.GPIO.HX711SCK)
	if err != nil {
		return fmt.Errorf("init hx711: %w", err)
	}
	defer hx.Close()
	cal, err := sensor.LoadCalibration(ctx, store)
	switch {
	case err == nil:
		hx.Calibrate(cal.Offset, cal.Scale)
		log.Printf("sensor: calibration offset=%d scale=%g", cal.Offset, cal.Scale)
	case errors.Is(err, sensor.ErrNotCalibrated):
		log.Printf("sensor: not calibrated, send command 1 to calibrate")
	default:
		log.Printf("sensor: %v", err)
	}
	calibrator := sensor.NewCalibrator(hx, store, cal)

	tlog, err := telemetry.Open(cfg.Storage.LogDir)
	if err != nil {
		log.Printf("telemetry: %v, measurements will not be recorded", err)
	} else {
		tlog.Location = clk.Location
	}

	var (
		jrnl    *journal.Journal
		history web.History
		dj      dispatch.Journal
		cj      command.Journal
	)
	if cfg.Storage.JournalPath != "" {
		jrnl, err = journal.Open(cfg.Storage.JournalPath)
		if err != nil {
			log.Printf("journal: %v", err)
		} else {
			defer jrnl.Close()
			history, dj, cj = jrnl, jrnl, jrnl
		}
	}

	iwd, err := wifi.NewIWD(cfg.WiFi.Interface)
	if err != nil {
		return fmt.Errorf("init wifi: %w", err)
	}
	defer iwd.Close()

	deviceID := cfg.Device.ID
	if deviceID == "" {
		deviceID = iwd.HardwareAddr()
	}
	topics := mqtt.NewTopics(cfg.Device.TopicPrefix)
	tracker := status.NewTracker(time.Now(), status.Config{
		DeviceID:    deviceID,
		PollMs:      cfg.Timing.PollMs,
		Broker:      cfg.MQTT.Broker,
		TopicPrefix: topics.Prefix,
		HTTPPort:    cfg.HTTP.Addr,
	})

	will, err := mqtt.FormatSystemPayload(mqtt.SystemEvent{Timestamp: time.Now(), Event: "OFFLINE", Reason: "CONNECTION_LOST"})
	if err != nil {
		return fmt.Errorf("format will: %w", err)
	}
	client := mqtt.NewRealClient(mqtt.Options{
		Broker:      cfg.MQTT.Broker,
		ClientID:    cfg.ClientID(),
		Username:    cfg.MQTT.Username,
		Password:    cfg.MQTT.Password,
		WillTopic:   topics.System(),
		WillPayload: will,
		OnConnectionChange: func(connected bool) {
			tracker.SetMQTTConnected(connected)
		},
	})
	announcer := mqtt.NewAnnouncer(client, topics)

	session := &connection.Session{
		Link:      iwd,
		Creds:     wifi.NewCredentials(store),
		Client:    client,
		Announcer: announcer,
		Topics:    topics,
		Gauge:     battery.NewSysfs(cfg.Battery.Supply),
		Tracker:   tracker,
	}
	listener := provision.NewListener(iwd, provision.Hotspot{SSID: cfg.WiFi.HotspotSSID, Password: cfg.WiFi.HotspotPassword})
	manager := connection.NewManager(session, st, listener, restart.Restart)
	manager.Tracker = tracker

	var updater command.Updater
	if cfg.OTA.Target != "" {
		updater = ota.NewUpdater(cfg.OTA.Target, cfg.OTA.StagingDir)
	}
	handler := &command.Handler{
		State:      st,
		Announcer:  announcer,
		Topics:     topics,
		Calibrator: calibrator,
		Clock:      clk,
		OTA:        updater,
		Tracker:    tracker,
		Restart:    restart.Restart,
		Location:   clk.Location,
	}
	router := command.NewRouter(handler, cj)
	if err := router.Subscribe(client); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	events := &lifecycle{client: client, topics: topics, tracker: tracker, now: clk.Time}
	b := &booter{state: st, session: session, log: tlog, events: events, tracker: tracker, now: clk.Time}
	if err := b.run(ctx); err != nil {
		log.Printf("boot: %v", err)
	}

	sensorTask := sensor.NewTask(sensor.TaskConfig{
		State:      st,
		Log:        tlog,
		Sensor:     hx,
		Gauge:      session.Gauge,
		Calibrator: calibrator,
		Notifier:   announcer,
		Tracker:    tracker,
		Now:        clk.Time,
		Online:     session.Online,
	})
	var dispatchTask *dispatch.Task
	if tlog != nil {
		dispatchTask = dispatch.NewTask(dispatch.Config{
			State:   st,
			Log:     tlog,
			Session: session,
			Journal: dj,
			Tracker: tracker,
			Now:     clk.Time,
		})
	}

	var wg sync.WaitGroup
	spawn := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("%s: stopped: %v", name, err)
			}
		}()
	}
	spawn("sensor", sensorTask.Run)
	if dispatchTask != nil {
		spawn("dispatch", dispatchTask.Run)
	}
	spawn("commands", router.Run)

	if w, err := wifi.NewWatcher(cfg.WiFi.Interface, func(info wifi.Info) {
		tracker.SetNetwork(&status.NetworkInfo{
			Interface: info.Interface,
			MAC:       info.MAC,
			IP:        info.IP,
			OperState: info.OperState,
			SSID:      iwd.SSID(),
		})
	}); err != nil {
		log.Printf("wifi: %v, link status unavailable", err)
	} else {
		spawn("netwatch", w.Run)
	}

	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, tracker, history, listener)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", cfg.HTTP.Addr)
	}

	reader, err := gpio.NewRealReader(cfg.GPIO.Chip, cfg.GPIO.ButtonPin)
	if err != nil {
		return fmt.Errorf("init button: %w", err)
	}
	defer reader.Close()

	timing := logic.DefaultButtonTiming()
	timing.Poll = time.Duration(cfg.Timing.PollMs) * time.Millisecond
	ticker := time.NewTicker(timing.Poll)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	log.Printf("started: device=%s broker=%s poll=%v", deviceID, cfg.MQTT.Broker, timing.Poll)

	err = runLoop(ctx, reader, logic.NewButton(timing), manager, events, tracker, clk.Time, ticker.C, sigCh)
	cancel()
	manager.Wait()
	handler.Wait()
	wg.Wait()
	if session.Connected() {
		session.DisconnectQuiet()
	}
	if err != nil {
		return err
	}
	if restart.requested.Load() {
		return errRestart
	}
	return nil
}
