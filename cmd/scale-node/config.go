package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/sweeney/scale-node/internal/gpio"
	"github.com/sweeney/scale-node/internal/mqtt"
	"github.com/sweeney/scale-node/internal/state"
)

// DefaultConfigPath is read when --config is not given.
const DefaultConfigPath = "/etc/scale-node/config.yaml"

// Config is the daemon configuration file.
type Config struct {
	Device  DeviceConfig  `yaml:"device"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	GPIO    GPIOConfig    `yaml:"gpio"`
	Storage StorageConfig `yaml:"storage"`
	WiFi    WiFiConfig    `yaml:"wifi"`
	Battery BatteryConfig `yaml:"battery"`
	OTA     OTAConfig     `yaml:"ota"`
	HTTP    HTTPConfig    `yaml:"http"`
	Timing  TimingConfig  `yaml:"timing"`
}

type DeviceConfig struct {
	// ID overrides the station MAC as the device identity.
	ID          string `yaml:"id"`
	TopicPrefix string `yaml:"topic_prefix"`
}

type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	ClientID string `yaml:"client_id"`
}

type GPIOConfig struct {
	Chip      string `yaml:"chip"`
	ButtonPin int    `yaml:"button_pin"`
	HX711DOUT int    `yaml:"hx711_dout"`
	HX711SCK  int    `yaml:"hx711_sck"`
}

type StorageConfig struct {
	KVDir       string `yaml:"kv_dir"`
	LogDir      string `yaml:"log_dir"`
	JournalPath string `yaml:"journal_path"`
}

type WiFiConfig struct {
	Interface       string `yaml:"interface"`
	HotspotSSID     string `yaml:"hotspot_ssid"`
	HotspotPassword string `yaml:"hotspot_password"`
}

type BatteryConfig struct {
	Supply string `yaml:"supply"`
}

type OTAConfig struct {
	Target     string `yaml:"target"`
	StagingDir string `yaml:"staging_dir"`
}

type HTTPConfig struct {
	// Addr is the status server address; empty disables it.
	Addr string `yaml:"addr"`
}

type TimingConfig struct {
	PollMs            int64  `yaml:"poll_ms"`
	SamplingMsDefault uint32 `yaml:"sampling_ms_default"`
	DispatchTime      string `yaml:"dispatch_time"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	return Config{
		Device: DeviceConfig{TopicPrefix: mqtt.DefaultPrefix},
		MQTT:   MQTTConfig{Broker: "tcp://192.168.1.200:1883"},
		GPIO: GPIOConfig{
			Chip:      gpio.DefaultChip,
			ButtonPin: gpio.DefaultButtonPin,
			HX711DOUT: 5,
			HX711SCK:  6,
		},
		Storage: StorageConfig{
			KVDir:       "/var/lib/scale-node/kv",
			LogDir:      "/var/lib/scale-node/log",
			JournalPath: "/var/lib/scale-node/journal.db",
		},
		WiFi: WiFiConfig{
			Interface:       "wlan0",
			HotspotSSID:     "scale-node-setup",
			HotspotPassword: "scalenode",
		},
		Battery: BatteryConfig{Supply: "battery"},
		OTA:     OTAConfig{Target: "/usr/local/bin/scale-node"},
		HTTP:    HTTPConfig{Addr: ":80"},
		Timing: TimingConfig{
			PollMs:            50,
			SamplingMsDefault: state.DefaultSamplingMS,
			DispatchTime:      "00:00",
		},
	}
}

// LoadConfig reads path over the defaults. A missing file is only an
// error when the path was given explicitly.
func LoadConfig(path string, explicit bool) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return cfg, cfg.Validate()
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks the values the daemon cannot start without.
func (c Config) Validate() error {
	if c.MQTT.Broker == "" {
		return errors.New("config: mqtt.broker is required")
	}
	if c.Timing.PollMs <= 0 {
		return fmt.Errorf("config: timing.poll_ms must be positive, got %d", c.Timing.PollMs)
	}
	if ms := c.Timing.SamplingMsDefault; ms < state.MinSamplingMS || ms > state.MaxSamplingMS {
		return fmt.Errorf("config: timing.sampling_ms_default %d out of range", ms)
	}
	if _, _, err := c.DispatchTime(); err != nil {
		return err
	}
	if c.Storage.KVDir == "" || c.Storage.LogDir == "" {
		return errors.New("config: storage.kv_dir and storage.log_dir are required")
	}
	return nil
}

// DispatchTime parses timing.dispatch_time.
func (c Config) DispatchTime() (hour, minute int, err error) {
	hs, ms, ok := strings.Cut(c.Timing.DispatchTime, ":")
	if ok {
		hour, err = strconv.Atoi(hs)
		if err == nil {
			minute, err = strconv.Atoi(ms)
		}
	}
	if !ok || err != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("config: timing.dispatch_time %q is not HH:MM", c.Timing.DispatchTime)
	}
	return hour, minute, nil
}

// ClientID returns mqtt.client_id, or a generated scale-node-<uuid8>.
func (c Config) ClientID() string {
	if c.MQTT.ClientID != "" {
		return c.MQTT.ClientID
	}
	return "scale-node-" + uuid.NewString()[:8]
}
