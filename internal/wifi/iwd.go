package wifi

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
)

const (
	iwdService         = "net.connman.iwd"
	stationIface       = "net.connman.iwd.Station"
	deviceIface        = "net.connman.iwd.Device"
	networkIface       = "net.connman.iwd.Network"
	accessPointIface   = "net.connman.iwd.AccessPoint"
	propertiesIface    = "org.freedesktop.DBus.Properties"
	objectManagerIface = "org.freedesktop.DBus.ObjectManager"
)

// DefaultScanTimeout bounds the wait for a scan to finish.
const DefaultScanTimeout = 10 * time.Second

// IWD drives the radio through the iwd daemon on the system bus.
type IWD struct {
	conn  *dbus.Conn
	agent *agent
	iface string

	mu          sync.Mutex
	devicePath  dbus.ObjectPath
	stationPath dbus.ObjectPath
	mac         string

	ScanTimeout time.Duration
}

// NewIWD connects to the system bus and locates the device named iface
// (the first station when empty).
func NewIWD(iface string) (*IWD, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("wifi: system bus: %w", err)
	}
	w := &IWD{
		conn:        conn,
		agent:       newAgent(),
		iface:       iface,
		ScanTimeout: DefaultScanTimeout,
	}
	if err := w.findDevice(); err != nil {
		log.Printf("wifi: %v (will retry on connect)", err)
	}
	if err := w.agent.register(conn); err != nil {
		log.Printf("wifi: register agent: %v", err)
	}
	return w, nil
}

// Close releases the bus connection.
func (w *IWD) Close() error {
	return w.conn.Close()
}

// Interface returns the kernel interface name of the station.
func (w *IWD) Interface() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.iface
}

func (w *IWD) findDevice() error {
	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	err := w.conn.Object(iwdService, "/").Call(objectManagerIface+".GetManagedObjects", 0).Store(&objects)
	if err != nil {
		return fmt.Errorf("wifi: managed objects: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for path, ifaces := range objects {
		dev, ok := ifaces[deviceIface]
		if !ok {
			continue
		}
		name, _ := dev["Name"].Value().(string)
		if w.iface != "" && name != w.iface {
			continue
		}
		w.devicePath = path
		w.iface = name
		w.mac, _ = dev["Address"].Value().(string)
		if _, ok := ifaces[stationIface]; ok {
			w.stationPath = path
		}
		log.Printf("wifi: using %s (%s)", name, path)
		return nil
	}
	return ErrNoStation
}

func (w *IWD) station(ctx context.Context) (dbus.BusObject, error) {
	w.mu.Lock()
	path := w.stationPath
	w.mu.Unlock()
	if path == "" {
		if err := w.findDevice(); err != nil {
			return nil, err
		}
		w.mu.Lock()
		path = w.stationPath
		w.mu.Unlock()
		if path == "" {
			return nil, ErrNoStation
		}
	}
	return w.conn.Object(iwdService, path), nil
}

// Connect scans, joins cred.SSID and waits for an IPv4 address.
func (w *IWD) Connect(ctx context.Context, cred Credential) error {
	st, err := w.station(ctx)
	if err != nil {
		return err
	}
	if err := w.scan(ctx, st); err != nil {
		return err
	}

	network, err := w.findNetwork(ctx, st, cred.SSID)
	if err != nil {
		return err
	}
	if cred.Password != "" {
		w.agent.set(network, cred.Password)
	}
	call := w.conn.Object(iwdService, network).CallWithContext(ctx, networkIface+".Connect", 0)
	if call.Err != nil {
		w.agent.clear(network)
		// Already connected to this network counts as success.
		if !strings.Contains(call.Err.Error(), "AlreadyConnected") {
			return fmt.Errorf("wifi: join %q: %w", cred.SSID, call.Err)
		}
	}
	return waitIPv4(ctx, w.Interface())
}

func (w *IWD) scan(ctx context.Context, st dbus.BusObject) error {
	rule := fmt.Sprintf("type='signal',interface='%s',member='PropertiesChanged',path='%s',arg0='%s'",
		propertiesIface, st.Path(), stationIface)
	if err := w.conn.BusObject().CallWithContext(ctx, "org.freedesktop.DBus.AddMatch", 0, rule).Err; err != nil {
		return fmt.Errorf("wifi: watch scan: %w", err)
	}
	sigs := make(chan *dbus.Signal, 10)
	w.conn.Signal(sigs)
	defer func() {
		w.conn.RemoveSignal(sigs)
		w.conn.BusObject().Call("org.freedesktop.DBus.RemoveMatch", 0, rule)
	}()

	if err := st.CallWithContext(ctx, stationIface+".Scan", 0).Err; err != nil && !strings.Contains(err.Error(), "Busy") {
		return fmt.Errorf("wifi: scan: %w", err)
	}

	timeout := time.NewTimer(w.ScanTimeout)
	defer timeout.Stop()
	for {
		select {
		case sig := <-sigs:
			if sig.Path != st.Path() || len(sig.Body) < 2 {
				continue
			}
			changed, ok := sig.Body[1].(map[string]dbus.Variant)
			if !ok {
				continue
			}
			if v, ok := changed["Scanning"]; ok {
				if scanning, _ := v.Value().(bool); !scanning {
					return nil
				}
			}
		case <-timeout.C:
			log.Printf("wifi: scan did not finish in %v, using cached results", w.ScanTimeout)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (w *IWD) findNetwork(ctx context.Context, st dbus.BusObject, ssid string) (dbus.ObjectPath, error) {
	var ordered []struct {
		Path dbus.ObjectPath
		RSSI int16
	}
	if err := st.CallWithContext(ctx, stationIface+".GetOrderedNetworks", 0).Store(&ordered); err != nil {
		return "", fmt.Errorf("wifi: list networks: %w", err)
	}
	for _, n := range ordered {
		v, err := w.conn.Object(iwdService, n.Path).GetProperty(networkIface + ".Name")
		if err != nil {
			continue
		}
		if name, _ := v.Value().(string); name == ssid {
			return n.Path, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrNetworkAbsent, ssid)
}

// Disconnect leaves the current network.
func (w *IWD) Disconnect() error {
	st, err := w.station(context.Background())
	if err != nil {
		return err
	}
	if err := st.Call(stationIface+".Disconnect", 0).Err; err != nil && !strings.Contains(err.Error(), "NotConnected") {
		return fmt.Errorf("wifi: disconnect: %w", err)
	}
	return nil
}

// Connected reports whether the station is associated.
func (w *IWD) Connected() bool {
	st, err := w.station(context.Background())
	if err != nil {
		return false
	}
	v, err := st.GetProperty(stationIface + ".State")
	if err != nil {
		return false
	}
	s, _ := v.Value().(string)
	return s == "connected" || s == "roaming"
}

// SSID returns the name of the joined network, if any.
func (w *IWD) SSID() string {
	st, err := w.station(context.Background())
	if err != nil {
		return ""
	}
	v, err := st.GetProperty(stationIface + ".ConnectedNetwork")
	if err != nil {
		return ""
	}
	path, _ := v.Value().(dbus.ObjectPath)
	if path == "" {
		return ""
	}
	n, err := w.conn.Object(iwdService, path).GetProperty(networkIface + ".Name")
	if err != nil {
		return ""
	}
	name, _ := n.Value().(string)
	return name
}

func (w *IWD) HardwareAddr() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return strings.ToUpper(w.mac)
}

// StartHotspot switches the device to AP mode and starts a network.
func (w *IWD) StartHotspot(ssid, password string) error {
	w.mu.Lock()
	dev := w.conn.Object(iwdService, w.devicePath)
	w.mu.Unlock()
	if err := dev.Call(propertiesIface+".Set", 0, deviceIface, "Mode", dbus.MakeVariant("ap")).Err; err != nil {
		return fmt.Errorf("wifi: ap mode: %w", err)
	}
	if err := dev.Call(accessPointIface+".Start", 0, ssid, password).Err; err != nil {
		return fmt.Errorf("wifi: start hotspot: %w", err)
	}
	log.Printf("wifi: hotspot %q up", ssid)
	return nil
}

// StopHotspot stops the AP and returns the device to station mode.
func (w *IWD) StopHotspot() error {
	w.mu.Lock()
	dev := w.conn.Object(iwdService, w.devicePath)
	w.mu.Unlock()
	if err := dev.Call(accessPointIface+".Stop", 0).Err; err != nil {
		log.Printf("wifi: stop hotspot: %v", err)
	}
	if err := dev.Call(propertiesIface+".Set", 0, deviceIface, "Mode", dbus.MakeVariant("station")).Err; err != nil {
		return fmt.Errorf("wifi: station mode: %w", err)
	}
	// The station object is recreated on mode change.
	w.mu.Lock()
	w.stationPath = ""
	w.mu.Unlock()
	return nil
}
