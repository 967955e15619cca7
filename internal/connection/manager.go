package connection

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sweeney/scale-node/internal/backoff"
	"github.com/sweeney/scale-node/internal/mqtt"
	"github.com/sweeney/scale-node/internal/provision"
	"github.com/sweeney/scale-node/internal/state"
	"github.com/sweeney/scale-node/internal/status"
)

// Provisioning timings.
const (
	RadioSettle      = 1500 * time.Millisecond
	ProvisionTimeout = 12 * time.Second
	RestartDelay     = 3 * time.Second
)

// Manager runs the button actions. At most one action is in flight; a
// trigger while one runs is ignored.
type Manager struct {
	Session   *Session
	State     *state.Store
	Provision *provision.Listener
	Tracker   *status.Tracker
	// Restart is called after new credentials are saved.
	Restart func()
	Sleep   backoff.SleepFunc

	busy atomic.Bool
	wg   sync.WaitGroup
}

// NewManager creates a Manager.
func NewManager(session *Session, st *state.Store, listener *provision.Listener, restart func()) *Manager {
	return &Manager{
		Session:   session,
		State:     st,
		Provision: listener,
		Restart:   restart,
		Sleep:     backoff.Sleep,
	}
}

// Busy reports whether an action is running.
func (m *Manager) Busy() bool {
	return m.busy.Load()
}

// Wait blocks until the running action, if any, finishes.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) spawn(ctx context.Context, name string, fn func(context.Context)) bool {
	if !m.busy.CompareAndSwap(false, true) {
		log.Printf("connection: %s ignored, another action is running", name)
		return false
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.busy.Store(false)
		fn(ctx)
	}()
	return true
}

// ToggleConnection connects when fully offline and disconnects otherwise.
// It returns false if the trigger was ignored.
func (m *Manager) ToggleConnection(ctx context.Context) bool {
	return m.spawn(ctx, "toggle", func(ctx context.Context) {
		if m.Session.Connected() {
			m.disconnect(ctx)
			return
		}
		m.connect(ctx)
	})
}

// EnterProvisioning drops the session and captures new credentials. It
// returns false if the trigger was ignored.
func (m *Manager) EnterProvisioning(ctx context.Context) bool {
	return m.spawn(ctx, "provisioning", m.provision)
}

func (m *Manager) connect(ctx context.Context) {
	if !m.Session.HasCredentials(ctx) {
		log.Printf("connection: no stored networks, hold the button to provision")
		return
	}
	log.Printf("connection: connecting")
	if err := m.Session.ConnectWiFi(ctx); err != nil {
		log.Printf("connection: %v, staying offline", err)
		return
	}
	if err := m.Session.ConnectBroker(ctx); err != nil {
		log.Printf("connection: %v, keeping wifi up", err)
		m.setManual(ctx, true)
		return
	}

	if a := m.Session.Announcer; a != nil {
		a.Status("system connected")
		a.Connection(mqtt.ConnOn)
	}
	if err := m.Session.PublishInfo(); err != nil {
		log.Printf("connection: publish info: %v", err)
	}
	m.setManual(ctx, true)
	log.Printf("connection: wifi and broker up")
}

func (m *Manager) disconnect(ctx context.Context) {
	log.Printf("connection: disconnecting")
	m.Session.Disconnect()
	m.setManual(ctx, false)
}

func (m *Manager) provision(ctx context.Context) {
	if m.Tracker != nil {
		m.Tracker.SetProvisioning(true)
		defer m.Tracker.SetProvisioning(false)
	}
	log.Printf("connection: entering provisioning")
	if m.Session.Connected() {
		m.Session.Disconnect()
		m.setManual(ctx, false)
	}
	if err := m.Sleep(ctx, RadioSettle); err != nil {
		return
	}
	if m.Provision == nil {
		log.Printf("connection: provisioning unavailable")
		return
	}

	pctx, cancel := context.WithTimeout(ctx, ProvisionTimeout)
	cred, err := m.Provision.Listen(pctx)
	cancel()
	switch {
	case err == nil:
		if m.Session.Creds == nil {
			log.Printf("connection: no credential store, discarding %q", cred.SSID)
			return
		}
		if _, err := m.Session.Creds.Save(ctx, cred); err != nil {
			log.Printf("connection: save credentials: %v", err)
			return
		}
		log.Printf("connection: credentials saved, restarting in %v", RestartDelay)
		if err := m.Sleep(ctx, RestartDelay); err != nil {
			return
		}
		if m.Restart != nil {
			m.Restart()
		}
	case errors.Is(err, provision.ErrTimeout):
		log.Printf("connection: provisioning timed out")
		if m.Session.HasCredentials(ctx) {
			m.connect(ctx)
		}
	default:
		log.Printf("connection: provisioning: %v", err)
	}
}

func (m *Manager) setManual(ctx context.Context, active bool) {
	if m.State == nil {
		return
	}
	err := m.State.UpdateFlags(ctx, func(f *state.Flags) { f.ManualConnectionActive = active })
	if err != nil {
		log.Printf("connection: set manual flag: %v", err)
	}
}
