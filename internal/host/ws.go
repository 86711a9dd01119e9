package host

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shellpanel/shellpanel/internal/protocol"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     allowWSOrigin,
}

// allowWSOrigin accepts same-host browsers and non-browser clients
// (no Origin header).
func allowWSOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil || originURL.Host == "" {
		return false
	}

	return strings.EqualFold(originURL.Host, r.Host)
}

// panelClient is one attached panel connection. Writes are serialized
// because session output, lifecycle events, and command errors arrive
// from different goroutines.
type panelClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *panelClient) writeEvent(ev protocol.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(ev)
}

func (s *Server) handlePanelWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}

	if !s.authorizeRequest(r) {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	client := &panelClient{conn: conn}
	s.addClient(client)
	defer s.removeClient(client)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-s.baseCtx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(
				err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				hostLog.Warn("panel_closed_unexpectedly",
					slog.String("error", err.Error()))
			}
			return
		}

		cmd, err := protocol.DecodeCommand(payload)
		if err != nil {
			_ = client.writeEvent(protocol.Event{
				Type:    protocol.EventSessionError,
				Message: "invalid command payload",
			})
			continue
		}

		s.supervisor.HandleCommand(cmd)
	}
}

func (s *Server) addClient(c *panelClient) {
	s.clientsMu.Lock()
	s.clients[c] = struct{}{}
	count := len(s.clients)
	s.clientsMu.Unlock()
	hostLog.Info("panel_attached", slog.Int("panels", count))
}

func (s *Server) removeClient(c *panelClient) {
	s.clientsMu.Lock()
	delete(s.clients, c)
	count := len(s.clients)
	s.clientsMu.Unlock()
	hostLog.Info("panel_detached", slog.Int("panels", count))
}

// broadcastEvent fans a supervisor event out to every attached panel.
// Write failures are left to each connection's read loop to clean up.
func (s *Server) broadcastEvent(ev protocol.Event) {
	s.clientsMu.Lock()
	clients := make([]*panelClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.clientsMu.Unlock()

	for _, c := range clients {
		_ = c.writeEvent(ev)
	}
}
