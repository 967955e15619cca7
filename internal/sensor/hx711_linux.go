//go:build linux

package sensor

import (
	"fmt"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// HX711 bit-bangs the HX711 two-wire interface over GPIO character device
// lines. Channel A with gain 128 is selected by one extra clock pulse.
type HX711 struct {
	scaler

	chip *gpiocdev.Chip
	dout *gpiocdev.Line
	sck  *gpiocdev.Line

	// ReadyTimeout bounds the wait for DOUT to go low.
	ReadyTimeout time.Duration
}

// NewHX711 requests dout as input and sck as output (low) on chip.
func NewHX711(chip string, dout, sck int) (*HX711, error) {
	c, err := gpiocdev.NewChip(chip)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}
	d, err := c.RequestLine(dout, gpiocdev.AsInput)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("request DOUT pin %d: %w", dout, err)
	}
	s, err := c.RequestLine(sck, gpiocdev.AsOutput(0))
	if err != nil {
		d.Close()
		c.Close()
		return nil, fmt.Errorf("request SCK pin %d: %w", sck, err)
	}
	return &HX711{
		chip:         c,
		dout:         d,
		sck:          s,
		ReadyTimeout: time.Second,
	}, nil
}

func (h *HX711) ReadWeight() (float32, error) {
	return readWeight(h.ReadRaw, &h.scaler)
}

// ReadRaw waits for a conversion and clocks it out MSB first.
func (h *HX711) ReadRaw() (int32, error) {
	deadline := time.Now().Add(h.ReadyTimeout)
	for {
		v, err := h.dout.Value()
		if err != nil {
			return 0, fmt.Errorf("read DOUT: %w", err)
		}
		if v == 0 {
			break
		}
		if time.Now().After(deadline) {
			return 0, ErrNotReady
		}
		time.Sleep(time.Millisecond)
	}

	var v uint32
	for i := 0; i < 24; i++ {
		bit, err := h.pulse()
		if err != nil {
			return 0, err
		}
		v = v<<1 | uint32(bit)
	}
	// 25th pulse: next conversion on channel A, gain 128.
	if _, err := h.pulse(); err != nil {
		return 0, err
	}
	return signExtend24(v), nil
}

// pulse raises SCK, samples DOUT and lowers SCK. SCK must not stay high
// for more than 60µs or the chip powers down.
func (h *HX711) pulse() (int, error) {
	if err := h.sck.SetValue(1); err != nil {
		return 0, fmt.Errorf("set SCK: %w", err)
	}
	bit, err := h.dout.Value()
	if serr := h.sck.SetValue(0); serr != nil && err == nil {
		err = serr
	}
	if err != nil {
		return 0, fmt.Errorf("clock bit: %w", err)
	}
	return bit, nil
}

// Close powers the chip down (SCK held high) and releases the lines.
func (h *HX711) Close() error {
	var errs []error
	if h.sck != nil {
		h.sck.SetValue(1)
		if err := h.sck.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close SCK pin: %w", err))
		}
	}
	if h.dout != nil {
		if err := h.dout.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close DOUT pin: %w", err))
		}
	}
	if h.chip != nil {
		if err := h.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
