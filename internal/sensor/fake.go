package sensor

import "sync"

// Fake is a scripted Sensor. Raw values are consumed in order; the last
// one repeats.
type Fake struct {
	scaler

	mu    sync.Mutex
	Raw   []int32
	Err   error
	Reads int
	index int
}

// NewFake creates a Fake returning raw in order.
func NewFake(raw ...int32) *Fake {
	return &Fake{Raw: raw}
}

func (f *Fake) ReadRaw() (int32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Reads++
	if f.Err != nil {
		return 0, f.Err
	}
	if len(f.Raw) == 0 {
		return 0, ErrNotReady
	}
	v := f.Raw[f.index]
	if f.index < len(f.Raw)-1 {
		f.index++
	}
	return v, nil
}

func (f *Fake) ReadWeight() (float32, error) {
	return readWeight(f.ReadRaw, &f.scaler)
}

// SetRaw replaces the script.
func (f *Fake) SetRaw(raw ...int32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Raw = raw
	f.index = 0
}

// Calibration returns the applied offset and scale.
func (f *Fake) Calibration() (int32, float32) {
	f.scaler.mu.Lock()
	defer f.scaler.mu.Unlock()
	if f.scale == 0 {
		return f.offset, DefaultScale
	}
	return f.offset, f.scale
}
