//go:build linux

package wifi

import (
	"context"
	"fmt"
	"log"
	"net"
	"syscall"
	"time"

	"github.com/jsimonetti/rtnetlink"
	"github.com/mdlayher/netlink"
)

// Multicast groups for link and IPv4 address events.
const (
	groupLink     = 0x1  // RTMGRP_LINK
	groupIPv4Addr = 0x10 // RTMGRP_IPV4_IFADDR
)

const addrPoll = 500 * time.Millisecond

// Status reads the current state of iface.
func Status(iface string) (Info, error) {
	conn, err := rtnetlink.Dial(nil)
	if err != nil {
		return Info{}, fmt.Errorf("wifi: dial rtnetlink: %w", err)
	}
	defer conn.Close()
	return status(conn, iface)
}

func status(conn *rtnetlink.Conn, iface string) (Info, error) {
	links, err := conn.Link.List()
	if err != nil {
		return Info{}, fmt.Errorf("wifi: list links: %w", err)
	}
	info := Info{Interface: iface}
	var index uint32
	for _, l := range links {
		if l.Attributes == nil || l.Attributes.Name != iface {
			continue
		}
		index = l.Index
		info.MAC = net.HardwareAddr(l.Attributes.Address).String()
		info.OperState = operState(l.Attributes.OperationalState)
		info.Up = l.Attributes.OperationalState == rtnetlink.OperStateUp
	}
	if index == 0 {
		return info, fmt.Errorf("wifi: interface %s not found", iface)
	}

	addrs, err := conn.Address.List()
	if err != nil {
		return info, fmt.Errorf("wifi: list addresses: %w", err)
	}
	for _, a := range addrs {
		if a.Index != index || a.Family != syscall.AF_INET || a.Attributes == nil {
			continue
		}
		if ip := a.Attributes.Address; ip != nil {
			info.IP = ip.String()
			break
		}
	}
	return info, nil
}

// waitIPv4 blocks until iface is up with an IPv4 address.
func waitIPv4(ctx context.Context, iface string) error {
	if iface == "" {
		return nil
	}
	conn, err := rtnetlink.Dial(nil)
	if err != nil {
		return fmt.Errorf("wifi: dial rtnetlink: %w", err)
	}
	defer conn.Close()

	t := time.NewTicker(addrPoll)
	defer t.Stop()
	for {
		info, err := status(conn, iface)
		if err == nil && info.Up && info.IP != "" {
			log.Printf("wifi: %s has address %s", iface, info.IP)
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("wifi: waiting for address on %s: %w", iface, ctx.Err())
		case <-t.C:
		}
	}
}

// Watcher reports link and address changes of one interface.
type Watcher struct {
	iface    string
	conn     *netlink.Conn
	rt       *rtnetlink.Conn
	onChange func(Info)
	last     Info
}

// NewWatcher subscribes to kernel link and IPv4 address events.
func NewWatcher(iface string, onChange func(Info)) (*Watcher, error) {
	conn, err := netlink.Dial(syscall.NETLINK_ROUTE, &netlink.Config{Groups: groupLink | groupIPv4Addr})
	if err != nil {
		return nil, fmt.Errorf("wifi: dial netlink: %w", err)
	}
	rt, err := rtnetlink.Dial(nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("wifi: dial rtnetlink: %w", err)
	}
	return &Watcher{iface: iface, conn: conn, rt: rt, onChange: onChange}, nil
}

// Run reports the initial state, then every change, until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		w.conn.Close()
		w.rt.Close()
	}()

	w.refresh()
	for {
		msgs, err := w.conn.Receive()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("wifi: netlink receive: %v", err)
			time.Sleep(time.Second)
			continue
		}
		for _, m := range msgs {
			switch m.Header.Type {
			case syscall.RTM_NEWLINK, syscall.RTM_DELLINK, syscall.RTM_NEWADDR, syscall.RTM_DELADDR:
				w.refresh()
			}
		}
	}
}

func (w *Watcher) refresh() {
	info, err := status(w.rt, w.iface)
	if err != nil {
		return
	}
	if info == w.last {
		return
	}
	log.Printf("wifi: %s %s ip=%s", info.Interface, info.OperState, info.IP)
	w.last = info
	if w.onChange != nil {
		w.onChange(info)
	}
}

func operState(s rtnetlink.OperationalState) string {
	switch s {
	case rtnetlink.OperStateNotPresent:
		return "notpresent"
	case rtnetlink.OperStateDown:
		return "down"
	case rtnetlink.OperStateLowerLayerDown:
		return "lowerlayerdown"
	case rtnetlink.OperStateTesting:
		return "testing"
	case rtnetlink.OperStateDormant:
		return "dormant"
	case rtnetlink.OperStateUp:
		return "up"
	default:
		return "unknown"
	}
}
