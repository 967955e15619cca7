package battery

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSysfsVoltage(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "bq27427-0")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "voltage_now"), []byte("3912000\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	g := &Sysfs{Root: root, Supply: "bq27427-0"}
	mv, err := g.VoltageMV()
	if err != nil {
		t.Fatalf("VoltageMV: %v", err)
	}
	if mv != 3912 {
		t.Errorf("VoltageMV = %d, want 3912", mv)
	}
}

func TestSysfsErrors(t *testing.T) {
	root := t.TempDir()
	g := &Sysfs{Root: root, Supply: "missing"}
	if _, err := g.VoltageMV(); err == nil {
		t.Error("expected error for missing supply")
	}

	dir := filepath.Join(root, "bad")
	os.MkdirAll(dir, 0o755)
	os.WriteFile(filepath.Join(dir, "voltage_now"), []byte("n/a"), 0o644)
	g.Supply = "bad"
	if _, err := g.VoltageMV(); err == nil {
		t.Error("expected parse error")
	}
}

func TestNewSysfsDefaults(t *testing.T) {
	g := NewSysfs("battery")
	if g.Root != DefaultRoot || g.Supply != "battery" {
		t.Errorf("got %+v", g)
	}
	var _ Gauge = g
	var _ Gauge = &Fake{}
}
