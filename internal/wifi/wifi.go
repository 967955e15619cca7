// Package wifi manages the station link: stored credentials, connecting
// through iwd, the provisioning hotspot and live link status.
package wifi

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/sweeney/scale-node/internal/backoff"
)

var (
	ErrNoCredentials = errors.New("wifi: no stored credentials")
	ErrNoStation     = errors.New("wifi: no station device")
	ErrNetworkAbsent = errors.New("wifi: network not in range")
)

// Credential is one stored network.
type Credential struct {
	SSID     string
	Password string
}

// Link is the station side of the radio.
type Link interface {
	// Connect joins the network and returns once it has an address.
	Connect(ctx context.Context, cred Credential) error
	Disconnect() error
	Connected() bool
	// HardwareAddr returns the MAC address as AA:BB:CC:DD:EE:FF.
	HardwareAddr() string
}

// AccessPoint is the hotspot used while provisioning.
type AccessPoint interface {
	StartHotspot(ssid, password string) error
	StopHotspot() error
}

// ConnectAny tries each credential in order under policy. An attempt
// succeeds as soon as one credential connects.
func ConnectAny(ctx context.Context, link Link, creds []Credential, policy backoff.Policy, sleep backoff.SleepFunc) (Credential, error) {
	if len(creds) == 0 {
		return Credential{}, ErrNoCredentials
	}
	var joined Credential
	err := policy.Do(ctx, sleep, func(ctx context.Context, attempt int) error {
		var errs []error
		for _, c := range creds {
			log.Printf("wifi: connecting to %q (attempt %d/%d)", c.SSID, attempt, policy.MaxAttempts)
			err := link.Connect(ctx, c)
			if err == nil {
				joined = c
				return nil
			}
			log.Printf("wifi: %q: %v", c.SSID, err)
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
		}
		return errors.Join(errs...)
	})
	if err != nil {
		return Credential{}, fmt.Errorf("wifi connect: %w", err)
	}
	log.Printf("wifi: connected to %q", joined.SSID)
	return joined, nil
}

// Info is the kernel view of the station interface.
type Info struct {
	Interface string
	MAC       string
	IP        string
	OperState string
	Up        bool
}
