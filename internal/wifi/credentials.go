package wifi

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"

	"github.com/sweeney/scale-node/internal/kv"
)

// Credential slots share the daemon namespace.
const (
	Namespace = "halo"
	Slots     = 3
)

// Legacy single-slot keys, read as a fallback.
var (
	KeyLegacySSID = kv.Key{Namespace, "wifi_ssid"}
	KeyLegacyPass = kv.Key{Namespace, "wifi_pass"}
)

func slotKeys(i int) (ssid, pass kv.Key) {
	n := strconv.Itoa(i)
	return kv.Key{Namespace, "wifi_ssid_" + n}, kv.Key{Namespace, "wifi_pass_" + n}
}

// Credentials stores networks in fixed slots.
type Credentials struct {
	store kv.Store
}

// NewCredentials creates a credential store over store.
func NewCredentials(store kv.Store) *Credentials {
	return &Credentials{store: store}
}

// Load returns the stored networks: occupied slots in order, then the
// legacy slot if set.
func (c *Credentials) Load(ctx context.Context) ([]Credential, error) {
	var out []Credential
	for i := 0; i < Slots; i++ {
		ks, kp := slotKeys(i)
		cred, ok, err := c.read(ctx, ks, kp)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, cred)
		}
	}
	cred, ok, err := c.read(ctx, KeyLegacySSID, KeyLegacyPass)
	if err != nil {
		return nil, err
	}
	if ok {
		out = append(out, cred)
	}
	return out, nil
}

// Any reports whether at least one network is stored.
func (c *Credentials) Any(ctx context.Context) bool {
	creds, err := c.Load(ctx)
	if err != nil {
		log.Printf("wifi: load credentials: %v", err)
		return false
	}
	return len(creds) > 0
}

// Save stores cred. A slot holding the same SSID is updated; otherwise
// the first empty slot is used; with every slot full, slot 0 is
// overwritten. It returns the slot written.
func (c *Credentials) Save(ctx context.Context, cred Credential) (int, error) {
	if cred.SSID == "" {
		return 0, errors.New("wifi: empty ssid")
	}
	slot := -1
	empty := -1
	for i := 0; i < Slots; i++ {
		ks, _ := slotKeys(i)
		var ssid string
		err := kv.Load(ctx, c.store, ks, &ssid)
		switch {
		case errors.Is(err, kv.ErrNotFound) || (err == nil && ssid == ""):
			if empty < 0 {
				empty = i
			}
		case err != nil:
			return 0, fmt.Errorf("wifi: read slot %d: %w", i, err)
		case ssid == cred.SSID:
			slot = i
		}
		if slot >= 0 {
			break
		}
	}
	switch {
	case slot >= 0:
	case empty >= 0:
		slot = empty
	default:
		log.Printf("wifi: all slots full, overwriting slot 0")
		slot = 0
	}

	ks, kp := slotKeys(slot)
	es, err := kv.Encode(ks, cred.SSID)
	if err != nil {
		return 0, err
	}
	ep, err := kv.Encode(kp, cred.Password)
	if err != nil {
		return 0, err
	}
	if err := c.store.BatchSet(ctx, []kv.Entry{es, ep}); err != nil {
		return 0, fmt.Errorf("wifi: save slot %d: %w", slot, err)
	}
	log.Printf("wifi: saved %q in slot %d", cred.SSID, slot)
	return slot, nil
}

// Clear removes every slot and the legacy pair.
func (c *Credentials) Clear(ctx context.Context) error {
	keys := []kv.Key{KeyLegacySSID, KeyLegacyPass}
	for i := 0; i < Slots; i++ {
		ks, kp := slotKeys(i)
		keys = append(keys, ks, kp)
	}
	for _, k := range keys {
		if err := c.store.Delete(ctx, k); err != nil && !errors.Is(err, kv.ErrNotFound) {
			return fmt.Errorf("wifi: clear %s: %w", k, err)
		}
	}
	return nil
}

func (c *Credentials) read(ctx context.Context, ks, kp kv.Key) (Credential, bool, error) {
	var cred Credential
	err := kv.Load(ctx, c.store, ks, &cred.SSID)
	if errors.Is(err, kv.ErrNotFound) {
		return Credential{}, false, nil
	}
	if err != nil {
		return Credential{}, false, fmt.Errorf("wifi: read %s: %w", ks, err)
	}
	if cred.SSID == "" {
		return Credential{}, false, nil
	}
	if err := kv.Load(ctx, c.store, kp, &cred.Password); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return Credential{}, false, nil
		}
		return Credential{}, false, fmt.Errorf("wifi: read %s: %w", kp, err)
	}
	return cred, true, nil
}
