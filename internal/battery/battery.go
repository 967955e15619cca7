// Package battery reads the battery voltage from the kernel power_supply
// class.
package battery

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultRoot is where the kernel exposes power supplies.
const DefaultRoot = "/sys/class/power_supply"

// Gauge reports the battery voltage.
type Gauge interface {
	VoltageMV() (int, error)
}

// Sysfs reads voltage_now of one power supply.
type Sysfs struct {
	Root   string
	Supply string
}

// NewSysfs creates a Sysfs gauge for supply under DefaultRoot.
func NewSysfs(supply string) *Sysfs {
	return &Sysfs{Root: DefaultRoot, Supply: supply}
}

// VoltageMV returns voltage_now converted from microvolts.
func (s *Sysfs) VoltageMV() (int, error) {
	path := filepath.Join(s.Root, s.Supply, "voltage_now")
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("battery: %w", err)
	}
	uv, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("battery: parse %s: %w", path, err)
	}
	return int(uv / 1000), nil
}

// Fake is a test double for Gauge.
type Fake struct {
	MV  int
	Err error
}

func (f *Fake) VoltageMV() (int, error) {
	return f.MV, f.Err
}
