package panel

import (
	"log/slog"
	"sync"

	"github.com/shellpanel/shellpanel/internal/protocol"
)

// ConnState is the logical connection state. The transport owns the
// actual redial loop; this state machine only reflects it.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	// StateRecovering means the transport dropped and is auto-retrying
	// with capped backoff. The current session pointer is untouched:
	// losing the transport does not imply losing the remote session.
	StateRecovering ConnState = "recovering"
)

// ConnManager owns the connection state machine and dispatches inbound
// events to the session registry and the reconnect policy. It invokes
// the policy's OnConnected exactly once per transition into CONNECTED.
type ConnManager struct {
	mu        sync.Mutex
	state     ConnState
	lastError string

	sessions *SessionRegistry
	policy   *Reconnector

	onState  func(ConnState)
	onError  func(message string)
	onOutput func(channel string, data []byte)
}

// NewConnManager creates a manager in the DISCONNECTED state.
func NewConnManager(sessions *SessionRegistry, policy *Reconnector) *ConnManager {
	return &ConnManager{
		state:    StateDisconnected,
		sessions: sessions,
		policy:   policy,
	}
}

// OnStateChange registers the state subscriber (UI indicator).
func (m *ConnManager) OnStateChange(fn func(ConnState)) { m.mu.Lock(); m.onState = fn; m.mu.Unlock() }

// OnError registers the error-text subscriber.
func (m *ConnManager) OnError(fn func(string)) { m.mu.Lock(); m.onError = fn; m.mu.Unlock() }

// OnOutput registers the terminal-output subscriber.
func (m *ConnManager) OnOutput(fn func(channel string, data []byte)) {
	m.mu.Lock()
	m.onOutput = fn
	m.mu.Unlock()
}

// State returns the current connection state.
func (m *ConnManager) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastError returns the most recent transport error text, if any.
func (m *ConnManager) LastError() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastError
}

// MarkConnecting records that a dial attempt is starting. Called by
// the panel before the transport's first dial.
func (m *ConnManager) MarkConnecting() {
	m.setState(StateConnecting)
}

// HandleEvent processes one inbound event. Events arrive in emission
// order on a single channel, but cross-session ordering is not
// meaningful: every session handler re-checks the event's path against
// the current pointer before mutating state.
func (m *ConnManager) HandleEvent(ev protocol.Event) {
	switch ev.Type {
	case protocol.EventConnect:
		m.handleConnect()
	case protocol.EventDisconnect:
		m.handleDisconnect(ev.Reason)
	case protocol.EventConnectError:
		m.mu.Lock()
		m.lastError = ev.Message
		notify := m.onError
		m.mu.Unlock()
		connLog.Debug("connect_error", slog.String("error", ev.Message))
		if notify != nil && ev.Message != "" {
			notify(ev.Message)
		}
	case protocol.EventSessionReady:
		m.sessions.OnReady(ev.ProjectPath)
	case protocol.EventSessionExit:
		m.sessions.OnExited(ev.ProjectPath, ev.ExitCode)
	case protocol.EventSessionKill:
		m.sessions.OnKilled(ev.ProjectPath)
	case protocol.EventSessionError:
		m.handleSessionError(ev)
	case protocol.EventOutput:
		m.mu.Lock()
		out := m.onOutput
		m.mu.Unlock()
		if out != nil {
			out(ev.Channel, ev.Data)
		}
	default:
		connLog.Debug("unknown_event_dropped", slog.String("type", ev.Type))
	}
}

func (m *ConnManager) handleConnect() {
	m.mu.Lock()
	if m.state == StateConnected {
		// Duplicate connect from the transport; the policy hook fires
		// once per transition, not once per event.
		m.mu.Unlock()
		return
	}
	m.state = StateConnected
	m.lastError = ""
	notify := m.onState
	m.mu.Unlock()

	connLog.Info("connected")
	if notify != nil {
		notify(StateConnected)
	}
	m.policy.OnConnected()
}

func (m *ConnManager) handleDisconnect(reason string) {
	m.mu.Lock()
	m.lastError = reason
	m.mu.Unlock()

	connLog.Warn("disconnected", slog.String("reason", reason))
	// The transport keeps retrying with capped backoff; the current
	// session pointer is deliberately left alone.
	m.policy.OnDisconnected()
	m.setState(StateRecovering)
}

// handleSessionError surfaces an error if it concerns the current
// session or names no session at all.
func (m *ConnManager) handleSessionError(ev protocol.Event) {
	if ev.ProjectPath != "" {
		cur, ok := m.sessions.Current()
		if !ok || cur.ProjectPath != ev.ProjectPath {
			connLog.Debug("stale_session_error_dropped", slog.String("path", ev.ProjectPath))
			return
		}
	}
	m.mu.Lock()
	notify := m.onError
	m.mu.Unlock()
	if notify != nil {
		notify(ev.Message)
	}
}

func (m *ConnManager) setState(s ConnState) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	m.state = s
	notify := m.onState
	m.mu.Unlock()
	if notify != nil {
		notify(s)
	}
}

// Close moves the machine to DISCONNECTED after an explicit shutdown
// (as opposed to a drop, which recovers automatically).
func (m *ConnManager) Close() {
	m.policy.OnDisconnected()
	m.setState(StateDisconnected)
}
