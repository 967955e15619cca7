// Package connection owns the network session: joining Wi-Fi, opening
// the broker session, tearing both down in order, and the button
// actions that drive them.
package connection

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/sweeney/scale-node/internal/backoff"
	"github.com/sweeney/scale-node/internal/battery"
	"github.com/sweeney/scale-node/internal/mqtt"
	"github.com/sweeney/scale-node/internal/status"
	"github.com/sweeney/scale-node/internal/wifi"
)

// Session bundles the link, the broker client and the announcer.
type Session struct {
	Link      wifi.Link
	Creds     *wifi.Credentials
	Client    mqtt.Client
	Announcer *mqtt.Announcer
	Topics    mqtt.Topics
	Gauge     battery.Gauge
	Tracker   *status.Tracker
	Sleep     backoff.SleepFunc

	// WiFiPolicy and BrokerPolicy default to backoff.WiFi and backoff.Broker.
	WiFiPolicy   backoff.Policy
	BrokerPolicy backoff.Policy
}

func (s *Session) wifiPolicy() backoff.Policy {
	if s.WiFiPolicy.MaxAttempts == 0 {
		return backoff.WiFi
	}
	return s.WiFiPolicy
}

func (s *Session) brokerPolicy() backoff.Policy {
	if s.BrokerPolicy.MaxAttempts == 0 {
		return backoff.Broker
	}
	return s.BrokerPolicy
}

// Online reports whether the station link is up.
func (s *Session) Online() bool {
	return s.Link.Connected()
}

// Connected reports whether either half of the session is up.
func (s *Session) Connected() bool {
	return s.Link.Connected() || s.Client.IsConnected()
}

// HasCredentials reports whether any network is stored.
func (s *Session) HasCredentials(ctx context.Context) bool {
	return s.Creds != nil && s.Creds.Any(ctx)
}

// DeviceID is the station MAC address.
func (s *Session) DeviceID() string {
	return s.Link.HardwareAddr()
}

// ConnectWiFi joins a stored network unless the link is already up.
func (s *Session) ConnectWiFi(ctx context.Context) error {
	if s.Link.Connected() {
		return nil
	}
	if s.Creds == nil {
		return wifi.ErrNoCredentials
	}
	creds, err := s.Creds.Load(ctx)
	if err != nil {
		return err
	}
	if _, err := wifi.ConnectAny(ctx, s.Link, creds, s.wifiPolicy(), s.Sleep); err != nil {
		return err
	}
	if s.Tracker != nil {
		s.Tracker.SetWifiConnected(true)
	}
	return nil
}

// ConnectBroker opens the broker session and flushes held announcements.
func (s *Session) ConnectBroker(ctx context.Context) error {
	if !s.Client.IsConnected() {
		p := s.brokerPolicy()
		err := p.Do(ctx, s.Sleep, func(ctx context.Context, attempt int) error {
			log.Printf("mqtt: connecting (attempt %d/%d)", attempt, p.MaxAttempts)
			return s.Client.Connect(ctx)
		})
		if err != nil {
			return fmt.Errorf("broker connect: %w", err)
		}
	}
	log.Printf("mqtt: connected")
	if s.Tracker != nil {
		s.Tracker.SetMQTTConnected(true)
	}
	if s.Announcer != nil {
		s.Announcer.Flush()
	}
	return nil
}

// Connect joins Wi-Fi and opens the broker session. A broker failure
// leaves Wi-Fi up; the caller decides what to do with it.
func (s *Session) Connect(ctx context.Context) error {
	if err := s.ConnectWiFi(ctx); err != nil {
		return err
	}
	return s.ConnectBroker(ctx)
}

// PublishInfo publishes the battery voltage and the device identity.
func (s *Session) PublishInfo() error {
	var errs []error
	if s.Gauge != nil {
		mv, err := s.Gauge.VoltageMV()
		if err != nil {
			errs = append(errs, fmt.Errorf("battery: %w", err))
		} else {
			log.Printf("connection: battery %d mV", mv)
			if s.Tracker != nil {
				s.Tracker.SetBattery(mv)
			}
			if payload, err := mqtt.FormatBattery(mv); err == nil {
				errs = append(errs, s.Client.Publish(s.Topics.Battery(), 1, false, payload))
			}
		}
	}
	if payload, err := mqtt.FormatDeviceInfo(s.DeviceID()); err == nil {
		errs = append(errs, s.Client.Publish(s.Topics.DeviceInfo(), 1, false, payload))
	}
	return errors.Join(errs...)
}

// Disconnect announces OFF, then closes the broker session and the link.
func (s *Session) Disconnect() {
	if s.Announcer != nil {
		s.Announcer.Connection(mqtt.ConnOff)
	}
	s.DisconnectQuiet()
}

// DisconnectQuiet closes the broker session and the link without
// announcing.
func (s *Session) DisconnectQuiet() {
	s.Client.Disconnect()
	if err := s.Link.Disconnect(); err != nil {
		log.Printf("connection: %v", err)
	}
	if s.Tracker != nil {
		s.Tracker.SetMQTTConnected(false)
		s.Tracker.SetWifiConnected(false)
	}
	log.Printf("connection: disconnected")
}
