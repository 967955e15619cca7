package sensor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sweeney/scale-node/internal/backoff"
	"github.com/sweeney/scale-node/internal/kv"
)

// CalibrationNamespace holds the persisted calibration.
const CalibrationNamespace = "hx711_cal"

// Calibration slot keys.
var (
	KeyOffset     = kv.Key{CalibrationNamespace, "offset"}
	KeyScale      = kv.Key{CalibrationNamespace, "scale"}
	KeyCalibrated = kv.Key{CalibrationNamespace, "calibrated"}
)

// Calibration defaults.
const (
	DefaultCalibrationSamples  = 10
	DefaultCalibrationInterval = 500 * time.Millisecond
	DefaultKnownMassKg         = 1.0
)

var (
	ErrNotCalibrated = errors.New("sensor: no saved calibration")
	ErrNoReadings    = errors.New("sensor: no successful readings")
	ErrNoOffset      = errors.New("sensor: offset phase has not run")
	ErrFlatScale     = errors.New("sensor: known mass produced no change")
)

// Calibration maps raw counts to kilograms: kg = (raw - Offset) / Scale.
type Calibration struct {
	Offset     int32
	Scale      float32
	Calibrated bool
}

// LoadCalibration reads the saved calibration. It returns ErrNotCalibrated
// when none was saved.
func LoadCalibration(ctx context.Context, store kv.Store) (Calibration, error) {
	var calibrated uint8
	if err := kv.Load(ctx, store, KeyCalibrated, &calibrated); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return Calibration{}, ErrNotCalibrated
		}
		return Calibration{}, fmt.Errorf("load calibration: %w", err)
	}
	if calibrated == 0 {
		return Calibration{}, ErrNotCalibrated
	}
	c := Calibration{Calibrated: true}
	if err := kv.Load(ctx, store, KeyOffset, &c.Offset); err != nil {
		return Calibration{}, fmt.Errorf("load calibration offset: %w", err)
	}
	if err := kv.Load(ctx, store, KeyScale, &c.Scale); err != nil {
		return Calibration{}, fmt.Errorf("load calibration scale: %w", err)
	}
	return c, nil
}

// SaveCalibration writes c and marks the device calibrated, atomically.
func SaveCalibration(ctx context.Context, store kv.Store, c Calibration) error {
	var entries []kv.Entry
	for _, p := range []struct {
		key kv.Key
		v   any
	}{
		{KeyOffset, c.Offset},
		{KeyScale, c.Scale},
		{KeyCalibrated, uint8(1)},
	} {
		e, err := kv.Encode(p.key, p.v)
		if err != nil {
			return err
		}
		entries = append(entries, e)
	}
	if err := store.BatchSet(ctx, entries); err != nil {
		return fmt.Errorf("save calibration: %w", err)
	}
	return nil
}

// Calibrator runs the two calibration phases: the offset with the
// platform empty, then the scale with the known mass on it.
type Calibrator struct {
	Sensor   Sensor
	Store    kv.Store
	Samples  int
	Interval time.Duration
	KnownKg  float32
	Sleep    backoff.SleepFunc

	mu        sync.Mutex
	cur       Calibration
	offsetSet bool
}

// NewCalibrator creates a Calibrator with the default sampling plan.
// current is the calibration in effect.
func NewCalibrator(s Sensor, store kv.Store, current Calibration) *Calibrator {
	if current.Scale == 0 {
		current.Scale = DefaultScale
	}
	return &Calibrator{
		Sensor:   s,
		Store:    store,
		Samples:  DefaultCalibrationSamples,
		Interval: DefaultCalibrationInterval,
		KnownKg:  DefaultKnownMassKg,
		Sleep:    backoff.Sleep,
		cur:      current,
	}
}

// Current returns the calibration in effect.
func (c *Calibrator) Current() Calibration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur
}

// Offset averages raw readings of the empty platform and applies the
// result. Failed readings are left out of the average.
func (c *Calibrator) Offset(ctx context.Context) (int32, error) {
	avg, err := c.average(ctx, "offset")
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	c.cur.Offset = avg
	c.offsetSet = true
	cur := c.cur
	c.mu.Unlock()

	c.Sensor.Calibrate(cur.Offset, cur.Scale)
	log.Printf("sensor: offset calculated: %d", avg)
	return avg, nil
}

// Weight averages raw readings with the known mass loaded, derives the
// scale, persists the calibration and applies it.
func (c *Calibrator) Weight(ctx context.Context) (Calibration, error) {
	c.mu.Lock()
	ready := c.offsetSet
	c.mu.Unlock()
	if !ready {
		return Calibration{}, ErrNoOffset
	}

	avg, err := c.average(ctx, "weight")
	if err != nil {
		return Calibration{}, err
	}

	c.mu.Lock()
	scale := float32(avg-c.cur.Offset) / c.KnownKg
	if scale == 0 {
		c.mu.Unlock()
		return Calibration{}, ErrFlatScale
	}
	c.cur.Scale = scale
	c.cur.Calibrated = true
	c.offsetSet = false
	cur := c.cur
	c.mu.Unlock()

	c.Sensor.Calibrate(cur.Offset, cur.Scale)
	log.Printf("sensor: scale calculated: %.2f", cur.Scale)
	if c.Store != nil {
		if err := SaveCalibration(ctx, c.Store, cur); err != nil {
			return cur, err
		}
	}
	return cur, nil
}

func (c *Calibrator) average(ctx context.Context, phase string) (int32, error) {
	var sum int64
	n := 0
	for i := 0; i < c.Samples; i++ {
		raw, err := c.Sensor.ReadRaw()
		if err != nil {
			log.Printf("sensor: %s reading %d: %v", phase, i+1, err)
		} else {
			sum += int64(raw)
			n++
		}
		if i < c.Samples-1 {
			if err := c.Sleep(ctx, c.Interval); err != nil {
				return 0, err
			}
		}
	}
	if n == 0 {
		return 0, ErrNoReadings
	}
	return int32(sum / int64(n)), nil
}
