package wifi

import (
	"log"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
)

const (
	agentPath      = dbus.ObjectPath("/org/scalenode/wifi/agent")
	agentIface     = "net.connman.iwd.Agent"
	agentMgrIface  = "net.connman.iwd.AgentManager"
	pendingTTL     = 30 * time.Second
	agentCancelled = agentIface + ".Error.Canceled"
)

type pendingPassphrase struct {
	passphrase string
	created    time.Time
}

// agent answers iwd passphrase requests for the network being joined.
type agent struct {
	mu      sync.Mutex
	pending map[dbus.ObjectPath]pendingPassphrase
}

func newAgent() *agent {
	return &agent{pending: make(map[dbus.ObjectPath]pendingPassphrase)}
}

func (a *agent) set(network dbus.ObjectPath, passphrase string) {
	a.mu.Lock()
	a.pending[network] = pendingPassphrase{passphrase: passphrase, created: time.Now()}
	a.mu.Unlock()
}

func (a *agent) clear(network dbus.ObjectPath) {
	a.mu.Lock()
	delete(a.pending, network)
	a.mu.Unlock()
}

func (a *agent) reset() {
	a.mu.Lock()
	a.pending = make(map[dbus.ObjectPath]pendingPassphrase)
	a.mu.Unlock()
}

// RequestPassphrase is called by iwd for PSK and SAE networks.
func (a *agent) RequestPassphrase(network dbus.ObjectPath) (string, *dbus.Error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.pending[network]
	delete(a.pending, network)
	if !ok || time.Since(p.created) > pendingTTL {
		log.Printf("wifi: no passphrase for %s", network)
		return "", dbus.NewError(agentCancelled, []interface{}{"no passphrase"})
	}
	return p.passphrase, nil
}

func (a *agent) RequestPrivateKeyPassphrase(network dbus.ObjectPath) (string, *dbus.Error) {
	return "", dbus.NewError(agentCancelled, []interface{}{"unsupported"})
}

func (a *agent) RequestUserNameAndPassword(network dbus.ObjectPath) (string, string, *dbus.Error) {
	return "", "", dbus.NewError(agentCancelled, []interface{}{"unsupported"})
}

func (a *agent) RequestUserPassword(network dbus.ObjectPath, user string) (string, *dbus.Error) {
	return "", dbus.NewError(agentCancelled, []interface{}{"unsupported"})
}

func (a *agent) Cancel(reason string) *dbus.Error {
	log.Printf("wifi: agent request cancelled: %s", reason)
	a.reset()
	return nil
}

func (a *agent) Release() *dbus.Error {
	a.reset()
	return nil
}

func (a *agent) register(conn *dbus.Conn) error {
	if err := conn.Export(a, agentPath, agentIface); err != nil {
		return err
	}
	return conn.Object(iwdService, "/net/connman/iwd").Call(agentMgrIface+".RegisterAgent", 0, agentPath).Err
}
