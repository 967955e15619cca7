//go:build !linux

package sensor

import "errors"

// HX711 is not available on non-Linux platforms.
type HX711 struct {
	scaler
}

// NewHX711 returns an error on non-Linux platforms.
func NewHX711(chip string, dout, sck int) (*HX711, error) {
	return nil, errors.New("sensor: hx711 not supported on this platform (requires Linux)")
}

func (h *HX711) ReadWeight() (float32, error) { return ErrorValue, errors.New("sensor: not supported") }

func (h *HX711) ReadRaw() (int32, error) { return 0, errors.New("sensor: not supported") }

func (h *HX711) Close() error { return nil }
