// Package web provides the HTTP status server for the scale-node daemon:
// the status page, its JSON form, the dispatch and command history, a
// live WebSocket feed and the provisioning form.
package web

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sweeney/scale-node/internal/journal"
	"github.com/sweeney/scale-node/internal/provision"
	"github.com/sweeney/scale-node/internal/status"
	"github.com/sweeney/scale-node/internal/wifi"
)

// DefaultHistoryLimit caps /history.json when no limit is given.
const DefaultHistoryLimit = 50

// DefaultPushInterval paces /ws snapshots.
const DefaultPushInterval = 2 * time.Second

// History is the journal as read by the server.
type History interface {
	Dispatches(ctx context.Context, limit int) ([]journal.Dispatch, error)
	Commands(ctx context.Context, limit int) ([]journal.Command, error)
}

// Provisioner accepts credentials while the hotspot is up.
type Provisioner interface {
	Active() bool
	Submit(cred wifi.Credential) error
}

// Server serves the status page over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	history    History
	provision  Provisioner
	upgrader   websocket.Upgrader

	// PushInterval paces /ws snapshots. Defaults to DefaultPushInterval.
	PushInterval time.Duration

	done chan struct{}
}

// New creates a Server that reads state from the given tracker. history
// and prov may be nil; their endpoints then answer 503.
func New(addr string, tracker *status.Tracker, history History, prov Provisioner) *Server {
	s := &Server{
		tracker:      tracker,
		history:      history,
		provision:    prov,
		PushInterval: DefaultPushInterval,
		done:         make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	mux.HandleFunc("/history.json", s.handleHistory)
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/provision", s.handleProvision)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// Handler returns the server's routes. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server and ends live feeds.
func (s *Server) Shutdown(ctx context.Context) error {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, snap, s.provision != nil && s.provision.Active())
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		http.Error(w, "history not available", http.StatusServiceUnavailable)
		return
	}
	limit := DefaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	dispatches, err := s.history.Dispatches(r.Context(), limit)
	if err != nil {
		log.Printf("web: history: %v", err)
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}
	commands, err := s.history.Commands(r.Context(), limit)
	if err != nil {
		log.Printf("web: history: %v", err)
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(formatHistory(dispatches, commands))
}

// handleWS pushes a status snapshot on connect and then every
// PushInterval until the client goes away or the server shuts down.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	// Drain client frames so close frames are noticed.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.NextReader(); err != nil {
				return
			}
		}
	}()

	interval := s.PushInterval
	if interval <= 0 {
		interval = DefaultPushInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := ws.WriteMessage(websocket.TextMessage, status.FormatJSON(s.tracker.Snapshot())); err != nil {
			return
		}
		select {
		case <-ticker.C:
		case <-gone:
			return
		case <-s.done:
			ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"),
				time.Now().Add(time.Second))
			return
		}
	}
}

func (s *Server) handleProvision(w http.ResponseWriter, r *http.Request) {
	if s.provision == nil {
		http.Error(w, "provisioning not available", http.StatusServiceUnavailable)
		return
	}
	switch r.Method {
	case http.MethodGet:
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		renderProvision(w, s.provision.Active(), "")
		return
	case http.MethodPost:
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	cred := wifi.Credential{SSID: r.PostFormValue("ssid"), Password: r.PostFormValue("password")}
	err := s.provision.Submit(cred)
	switch {
	case err == nil:
		log.Printf("web: credentials received for %q", cred.SSID)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		renderProvision(w, false, "Credentials saved. The device will restart and join "+cred.SSID+".")
	case errors.Is(err, provision.ErrInactive):
		http.Error(w, "provisioning is not active", http.StatusConflict)
	case errors.Is(err, provision.ErrEmptySSID):
		http.Error(w, "ssid is required", http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
