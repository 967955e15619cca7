// Package telemetry is the durable, append-only measurement log kept on the
// data volume. Weights go to pesos.csv and battery voltages to voltajes.csv,
// one line per sample:
//
//	Fecha,Hora,Peso_kg
//	2024-01-15,10:30:00,12.34
//
// The position of a record among the non-header lines is its index; the
// sync cursor counts records in this unit. Records are never rewritten.
//
// All file access happens inside WithLock, which serialises the acquisition
// writer against the sync reader with a bounded wait.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/sweeney/scale-node/internal/backoff"
)

// File names and headers.
const (
	WeightFile    = "pesos.csv"
	VoltageFile   = "voltajes.csv"
	WeightHeader  = "Fecha,Hora,Peso_kg"
	VoltageHeader = "Fecha,Hora,Voltaje"
)

// Timestamp layouts used in the log.
const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04:05"
)

// ErrBusy is returned by WithLock when the log could not be locked in time.
var ErrBusy = errors.New("telemetry: log busy")

// Record is one weight sample.
type Record struct {
	Index  uint32
	Time   time.Time
	Weight float32
}

// Log is the measurement log directory.
type Log struct {
	dir string
	sem chan struct{}

	// Retry governs append retries. Defaults to backoff.LogWrite.
	Retry backoff.Policy

	// Sleep is used between append retries. Defaults to backoff.Sleep.
	Sleep backoff.SleepFunc

	// Location is used to read record timestamps. Defaults to time.Local.
	Location *time.Location
}

// Open prepares dir, creating it and the log files with their headers
// when missing.
func Open(dir string) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("telemetry: create %s: %w", dir, err)
	}
	l := &Log{
		dir:   dir,
		sem:   make(chan struct{}, 1),
		Retry: backoff.LogWrite,
		Sleep: backoff.Sleep,
	}
	for _, f := range []struct{ name, header string }{
		{WeightFile, WeightHeader},
		{VoltageFile, VoltageHeader},
	} {
		if err := ensureHeader(filepath.Join(dir, f.name), f.header); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Dir returns the log directory.
func (l *Log) Dir() string { return l.dir }

// WithLock runs fn with exclusive access to the log. It waits at most wait
// for the lock and returns ErrBusy if it could not be taken.
func (l *Log) WithLock(ctx context.Context, wait time.Duration, fn func(tx *Tx) error) error {
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case l.sem <- struct{}{}:
	case <-t.C:
		return ErrBusy
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-l.sem }()
	return fn(&Tx{l: l})
}

func (l *Log) location() *time.Location {
	if l.Location != nil {
		return l.Location
	}
	return time.Local
}

func (l *Log) path(name string) string {
	return filepath.Join(l.dir, name)
}

func ensureHeader(path, header string) error {
	fi, err := os.Stat(path)
	if err == nil && fi.Size() > 0 {
		return nil
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("telemetry: stat %s: %w", path, err)
	}
	if err := os.WriteFile(path, []byte(header+"\n"), 0o644); err != nil {
		return fmt.Errorf("telemetry: create %s: %w", path, err)
	}
	log.Printf("telemetry: created %s", path)
	return nil
}
