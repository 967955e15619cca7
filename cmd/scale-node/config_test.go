package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.MQTT.Broker != "tcp://192.168.1.200:1883" {
		t.Errorf("Broker = %q", cfg.MQTT.Broker)
	}
	if cfg.GPIO.ButtonPin != 17 || cfg.GPIO.Chip != "gpiochip0" {
		t.Errorf("GPIO = %+v", cfg.GPIO)
	}
	if cfg.Device.TopicPrefix != "halo" {
		t.Errorf("TopicPrefix = %q, want halo", cfg.Device.TopicPrefix)
	}
}

func TestLoadConfigMissingDefaultPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.yaml")
	cfg, err := LoadConfig(path, false)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Timing.PollMs != 50 {
		t.Errorf("PollMs = %d, want 50", cfg.Timing.PollMs)
	}
}

func TestLoadConfigMissingExplicitPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.yaml")
	if _, err := LoadConfig(path, true); err == nil {
		t.Fatal("expected error for explicit missing file")
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	path := writeConfig(t, `
device:
  id: scale-kitchen
  topic_prefix: kitchen
mqtt:
  broker: tcp://broker.local:1883
  client_id: fixed-id
timing:
  dispatch_time: "18:30"
  sampling_ms_default: 5000
`)
	cfg, err := LoadConfig(path, true)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Device.ID != "scale-kitchen" || cfg.Device.TopicPrefix != "kitchen" {
		t.Errorf("Device = %+v", cfg.Device)
	}
	if cfg.MQTT.Broker != "tcp://broker.local:1883" {
		t.Errorf("Broker = %q", cfg.MQTT.Broker)
	}
	// Untouched sections keep their defaults.
	if cfg.WiFi.Interface != "wlan0" {
		t.Errorf("Interface = %q, want wlan0", cfg.WiFi.Interface)
	}
	h, m, err := cfg.DispatchTime()
	if err != nil || h != 18 || m != 30 {
		t.Errorf("DispatchTime = %d:%d (%v), want 18:30", h, m, err)
	}
	if cfg.ClientID() != "fixed-id" {
		t.Errorf("ClientID = %q", cfg.ClientID())
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad yaml", "mqtt: [\n"},
		{"empty broker", "mqtt:\n  broker: \"\"\n"},
		{"zero poll", "timing:\n  poll_ms: 0\n"},
		{"interval too short", "timing:\n  sampling_ms_default: 500\n"},
		{"dispatch hour", "timing:\n  dispatch_time: \"24:00\"\n"},
		{"dispatch format", "timing:\n  dispatch_time: \"noon\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadConfig(writeConfig(t, tt.body), true); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestGeneratedClientID(t *testing.T) {
	cfg := DefaultConfig()
	a, b := cfg.ClientID(), cfg.ClientID()
	if !strings.HasPrefix(a, "scale-node-") || len(a) != len("scale-node-")+8 {
		t.Errorf("ClientID = %q", a)
	}
	if a == b {
		t.Errorf("expected distinct generated IDs, got %q twice", a)
	}
}
