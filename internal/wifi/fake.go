package wifi

import (
	"context"
	"sync"
)

// FakeLink is a Link and AccessPoint for tests.
type FakeLink struct {
	mu sync.Mutex

	// Attempts records every Connect call.
	Attempts []Credential
	// Accept lists the SSIDs that connect; nil accepts everything.
	Accept map[string]bool
	// ConnectError, if set, fails every Connect.
	ConnectError error
	// Block, if set, makes Connect wait until it is closed.
	Block chan struct{}

	Disconnects   int
	HotspotStarts int
	HotspotStops  int
	MAC           string

	connected bool
}

// NewFakeLink creates a disconnected FakeLink.
func NewFakeLink() *FakeLink {
	return &FakeLink{MAC: "AA:BB:CC:DD:EE:FF"}
}

func (f *FakeLink) Connect(ctx context.Context, cred Credential) error {
	f.mu.Lock()
	f.Attempts = append(f.Attempts, cred)
	block := f.Block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ConnectError != nil {
		return f.ConnectError
	}
	if f.Accept != nil && !f.Accept[cred.SSID] {
		return ErrNetworkAbsent
	}
	f.connected = true
	return nil
}

func (f *FakeLink) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Disconnects++
	f.connected = false
	return nil
}

func (f *FakeLink) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// SetConnected forces the link state.
func (f *FakeLink) SetConnected(c bool) {
	f.mu.Lock()
	f.connected = c
	f.mu.Unlock()
}

func (f *FakeLink) HardwareAddr() string {
	return f.MAC
}

func (f *FakeLink) StartHotspot(ssid, password string) error {
	f.mu.Lock()
	f.HotspotStarts++
	f.mu.Unlock()
	return nil
}

func (f *FakeLink) StopHotspot() error {
	f.mu.Lock()
	f.HotspotStops++
	f.mu.Unlock()
	return nil
}

// AttemptCount returns the number of Connect calls.
func (f *FakeLink) AttemptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Attempts)
}
