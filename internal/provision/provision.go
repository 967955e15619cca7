// Package provision captures Wi-Fi credentials from an operator. While a
// capture is active the device raises a hotspot and accepts a single
// submission through the HTTP form.
package provision

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/sweeney/scale-node/internal/wifi"
)

// DefaultCaptureTimeout bounds a capture.
const DefaultCaptureTimeout = 10 * time.Second

var (
	ErrTimeout   = errors.New("provision: no credentials received")
	ErrInactive  = errors.New("provision: not capturing")
	ErrEmptySSID = errors.New("provision: empty ssid")
	ErrBusy      = errors.New("provision: capture already running")
)

// Hotspot settings.
type Hotspot struct {
	SSID     string
	Password string
}

// Listener captures one credential submission.
type Listener struct {
	AP             wifi.AccessPoint
	Hotspot        Hotspot
	CaptureTimeout time.Duration

	mu      sync.Mutex
	pending chan wifi.Credential
}

// NewListener creates a Listener. ap may be nil, in which case the form
// is only reachable on the current network.
func NewListener(ap wifi.AccessPoint, hs Hotspot) *Listener {
	return &Listener{AP: ap, Hotspot: hs, CaptureTimeout: DefaultCaptureTimeout}
}

// Active reports whether a capture is running.
func (l *Listener) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pending != nil
}

// Submit hands credentials to the running capture.
func (l *Listener) Submit(cred wifi.Credential) error {
	if cred.SSID == "" {
		return ErrEmptySSID
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pending == nil {
		return ErrInactive
	}
	select {
	case l.pending <- cred:
		return nil
	default:
		// One submission per capture.
		return ErrInactive
	}
}

// Listen runs one capture and returns the submitted credentials or
// ErrTimeout.
func (l *Listener) Listen(ctx context.Context) (wifi.Credential, error) {
	ch := make(chan wifi.Credential, 1)
	l.mu.Lock()
	if l.pending != nil {
		l.mu.Unlock()
		return wifi.Credential{}, ErrBusy
	}
	l.pending = ch
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.pending = nil
		l.mu.Unlock()
	}()

	if l.AP != nil {
		if err := l.AP.StartHotspot(l.Hotspot.SSID, l.Hotspot.Password); err != nil {
			log.Printf("provision: %v", err)
		} else {
			defer func() {
				if err := l.AP.StopHotspot(); err != nil {
					log.Printf("provision: %v", err)
				}
			}()
		}
	}

	timeout := l.CaptureTimeout
	if timeout <= 0 {
		timeout = DefaultCaptureTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log.Printf("provision: waiting for credentials (%v)", timeout)
	select {
	case cred := <-ch:
		log.Printf("provision: received credentials for %q", cred.SSID)
		return cred, nil
	case <-cctx.Done():
		if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return wifi.Credential{}, ctx.Err()
		}
		return wifi.Credential{}, ErrTimeout
	}
}
