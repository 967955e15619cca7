package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/sweeney/scale-node/internal/kv"
)

// Namespace holds the daemon's persisted slots.
const Namespace = "halo"

// Slot keys.
var (
	KeyLastSent       = kv.Key{Namespace, "last_sent_index"}
	KeyDispatchHour   = kv.Key{Namespace, "dispatch_hour"}
	KeyDispatchMinute = kv.Key{Namespace, "dispatch_minute"}
	KeySamplingMS     = kv.Key{Namespace, "sampling_ms"}
)

// KVPersister persists Envio fields as individual msgpack-encoded slots.
type KVPersister struct {
	store kv.Store
}

// NewKVPersister creates a persister over store.
func NewKVPersister(store kv.Store) *KVPersister {
	return &KVPersister{store: store}
}

// LoadEnvio reads every slot. Missing slots are left zero; the dispatch
// time is only restored when both hour and minute exist.
func (p *KVPersister) LoadEnvio(ctx context.Context) (Envio, error) {
	var e Envio
	if err := loadOptional(ctx, p.store, KeyLastSent, &e.LastSentIndex); err != nil {
		return Envio{}, err
	}
	if err := loadOptional(ctx, p.store, KeySamplingMS, &e.SamplingIntervalMS); err != nil {
		return Envio{}, err
	}

	var hour, minute uint8
	errH := kv.Load(ctx, p.store, KeyDispatchHour, &hour)
	errM := kv.Load(ctx, p.store, KeyDispatchMinute, &minute)
	switch {
	case errH == nil && errM == nil:
		e.DispatchHour = int(hour)
		e.DispatchMinute = int(minute)
	case errH != nil && !errors.Is(errH, kv.ErrNotFound):
		return Envio{}, fmt.Errorf("load %s: %w", KeyDispatchHour, errH)
	case errM != nil && !errors.Is(errM, kv.ErrNotFound):
		return Envio{}, fmt.Errorf("load %s: %w", KeyDispatchMinute, errM)
	}
	return e, nil
}

func (p *KVPersister) SaveCursor(ctx context.Context, index uint32) error {
	return kv.Put(ctx, p.store, KeyLastSent, index)
}

func (p *KVPersister) SaveDispatchTime(ctx context.Context, hour, minute int) error {
	h, err := kv.Encode(KeyDispatchHour, uint8(hour))
	if err != nil {
		return err
	}
	m, err := kv.Encode(KeyDispatchMinute, uint8(minute))
	if err != nil {
		return err
	}
	return p.store.BatchSet(ctx, []kv.Entry{h, m})
}

func (p *KVPersister) SaveSamplingInterval(ctx context.Context, ms uint32) error {
	return kv.Put(ctx, p.store, KeySamplingMS, ms)
}

func loadOptional(ctx context.Context, s kv.Store, key kv.Key, v any) error {
	err := kv.Load(ctx, s, key, v)
	if err == nil || errors.Is(err, kv.ErrNotFound) {
		return nil
	}
	return fmt.Errorf("load %s: %w", key, err)
}
