//go:build !linux

package wifi

import (
	"context"
	"errors"
)

var errUnsupported = errors.New("wifi: netlink requires linux")

// Status is only supported on Linux.
func Status(iface string) (Info, error) {
	return Info{}, errUnsupported
}

func waitIPv4(ctx context.Context, iface string) error {
	return nil
}

// Watcher is only supported on Linux.
type Watcher struct{}

// NewWatcher is only supported on Linux.
func NewWatcher(iface string, onChange func(Info)) (*Watcher, error) {
	return nil, errUnsupported
}

func (w *Watcher) Run(ctx context.Context) error {
	return errUnsupported
}
