// Package sensor owns the load cell: the HX711 driver, the two-phase
// calibration and the acquisition task that logs measurements.
package sensor

import (
	"errors"
	"sync"
)

// Readings at or below ErrorThreshold are failed reads and are never logged.
const (
	ErrorThreshold float32 = -900
	ErrorValue     float32 = -999
)

// Default calibration used until one is loaded or taken.
const (
	DefaultOffset int32   = 0
	DefaultScale  float32 = 1000
)

// ErrNotReady is returned when the ADC did not signal a conversion in time.
var ErrNotReady = errors.New("sensor: adc not ready")

// Sensor is a calibrated load cell.
type Sensor interface {
	// ReadWeight returns kilograms. On failure it returns ErrorValue and
	// the cause.
	ReadWeight() (float32, error)

	// ReadRaw returns the signed 24-bit conversion result.
	ReadRaw() (int32, error)

	// Calibrate applies offset and scale to later ReadWeight calls.
	Calibrate(offset int32, scale float32)
}

// scaler converts raw counts to kilograms. It is shared by the drivers.
// The zero value applies DefaultOffset and DefaultScale.
type scaler struct {
	mu     sync.Mutex
	offset int32
	scale  float32
}

func (s *scaler) Calibrate(offset int32, scale float32) {
	if scale == 0 {
		scale = DefaultScale
	}
	s.mu.Lock()
	s.offset = offset
	s.scale = scale
	s.mu.Unlock()
}

func (s *scaler) kg(raw int32) float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	scale := s.scale
	if scale == 0 {
		scale = DefaultScale
	}
	return float32(raw-s.offset) / scale
}

func readWeight(read func() (int32, error), s *scaler) (float32, error) {
	raw, err := read()
	if err != nil {
		return ErrorValue, err
	}
	return s.kg(raw), nil
}

// signExtend24 interprets the low 24 bits of v as two's complement.
func signExtend24(v uint32) int32 {
	return int32(v<<8) >> 8
}
