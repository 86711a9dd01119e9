// Package panel implements the session and tab lifecycle manager: the
// component that owns the single logical connection to the process
// host, decides when and which session to (re)attach, arbitrates races
// between user actions and asynchronous push events, and manages the
// bounded set of tabs multiplexed onto one session.
package panel

import (
	"fmt"
	"path/filepath"

	"github.com/shellpanel/shellpanel/internal/clock"
	"github.com/shellpanel/shellpanel/internal/protocol"
)

// Options configures a Panel. Sender is required; everything else is
// optional.
type Options struct {
	Clock    clock.Clock
	Sender   CommandSender
	Settings SettingsClient
	History  HistoryClient
	TabStore TabStore

	// OnStateChange observes connection state transitions.
	OnStateChange func(ConnState)

	// OnError receives surfaced error text (transport errors, session
	// errors for the current session).
	OnError func(message string)

	// OnOutput receives terminal output for a channel of the current
	// session.
	OnOutput func(channel string, data []byte)

	// RefreshProjects is poked when a session event invalidates the
	// external project listing.
	RefreshProjects func()
}

// Panel wires the connection manager, session registry, reconnect
// policy, bootstrap resolver and tab registry, and exposes the user
// command surface. Inbound events enter through HandleEvent.
type Panel struct {
	conn     *ConnManager
	sessions *SessionRegistry
	policy   *Reconnector
	tabs     *TabRegistry
	sender   CommandSender
}

// New assembles a Panel from its parts.
func New(opts Options) *Panel {
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}

	sessions := NewSessionRegistry(clk)
	sessions.OnRefreshProjects(opts.RefreshProjects)

	var resolver *BootstrapResolver
	if opts.Settings != nil && opts.History != nil {
		resolver = NewBootstrapResolver(opts.Settings, opts.History, sessions)
	}

	policy := NewReconnector(clk, sessions, resolver, opts.Sender)
	sessions.OnInterrupted(policy.OnInterrupted)
	if resolver != nil {
		resolver.setSchedule(policy.Schedule)
	}

	conn := NewConnManager(sessions, policy)
	conn.OnStateChange(opts.OnStateChange)
	conn.OnError(opts.OnError)
	conn.OnOutput(opts.OnOutput)

	p := &Panel{
		conn:     conn,
		sessions: sessions,
		policy:   policy,
		tabs:     NewTabRegistry(opts.TabStore),
		sender:   opts.Sender,
	}
	return p
}

// HandleEvent feeds one inbound event through the connection manager
// and keeps the tab registry scoped to the session the event confirms.
func (p *Panel) HandleEvent(ev protocol.Event) {
	p.conn.HandleEvent(ev)

	if ev.Type != protocol.EventSessionReady {
		return
	}
	cur, ok := p.sessions.Current()
	if !ok || cur.ProjectPath != ev.ProjectPath {
		return
	}
	if p.tabs.SessionPath() != cur.ProjectPath {
		p.tabs.Reset(cur.ProjectPath)
	}
	if p.tabs.Count() == 0 {
		// The first channel is provisioned by the host before any tab
		// metadata exists; bind tab 0 to it.
		if _, err := p.tabs.Create(CreateTabOptions{Channel: FirstChannel(cur.ProjectPath)}); err != nil {
			tabLog.Warn("first_tab_create_failed", "error", err.Error())
		}
	}
}

// Conn exposes the connection state machine.
func (p *Panel) Conn() *ConnManager { return p.conn }

// Sessions exposes the session registry.
func (p *Panel) Sessions() *SessionRegistry { return p.sessions }

// Tabs exposes the tab registry for the current session.
func (p *Panel) Tabs() *TabRegistry { return p.tabs }

// SelectProject makes projectPath the current session and asks the
// host to attach to it. Any in-flight resume for a previous project
// becomes stale immediately.
func (p *Panel) SelectProject(projectPath string) error {
	if projectPath == "" {
		return fmt.Errorf("project path is required")
	}
	p.sessions.SetCurrent(projectPath)
	p.tabs.Reset(projectPath)
	return p.sender.Send(protocol.Command{Type: protocol.CmdSelectSession, Path: projectPath})
}

// KillSession explicitly terminates the current session. Terminal:
// never auto-resumed.
func (p *Panel) KillSession() error {
	cur, ok := p.sessions.Current()
	if !ok {
		return ErrNoSession
	}
	return p.sender.Send(protocol.Command{Type: protocol.CmdKillSession, Path: cur.ProjectPath})
}

// Deselect clears the current session without killing the remote
// process; it keeps running detached.
func (p *Panel) Deselect() {
	p.sessions.ClearCurrent()
	p.tabs.Reset("")
}

// SendInput forwards keystrokes to the active tab's channel.
func (p *Panel) SendInput(data []byte) error {
	cur, ok := p.sessions.Current()
	if !ok {
		return ErrNoSession
	}
	active, ok := p.tabs.Active()
	if !ok {
		return fmt.Errorf("%w: no active tab", ErrNoSession)
	}
	return p.sender.Send(protocol.Command{
		Type:    protocol.CmdSessionInput,
		Path:    cur.ProjectPath,
		Channel: active.Channel,
		Data:    data,
	})
}

// Resize propagates terminal dimensions for the current session.
func (p *Panel) Resize(cols, rows int) error {
	cur, ok := p.sessions.Current()
	if !ok {
		return ErrNoSession
	}
	if cols <= 0 || rows <= 0 {
		return fmt.Errorf("invalid dimensions: cols=%d rows=%d", cols, rows)
	}
	return p.sender.Send(protocol.Command{
		Type: protocol.CmdSessionResize,
		Path: cur.ProjectPath,
		Cols: cols,
		Rows: rows,
	})
}

// NewTab creates an additional tab on the current session.
func (p *Panel) NewTab(opts CreateTabOptions) (Tab, error) {
	cur, ok := p.sessions.Current()
	if !ok {
		return Tab{}, ErrNoSession
	}
	if opts.Channel == "" {
		opts.Channel = ChannelName(cur.ProjectPath, p.tabs.Count())
	}
	return p.tabs.Create(opts)
}

// FirstChannel is the channel name the host provisions for a freshly
// selected project.
func FirstChannel(projectPath string) string {
	return ChannelPrefix + filepath.Base(projectPath)
}

// ChannelName names the channel backing the tab at the given order.
// Order 0 is the bare project channel; later tabs get a numeric
// suffix.
func ChannelName(projectPath string, order int) string {
	if order == 0 {
		return FirstChannel(projectPath)
	}
	return fmt.Sprintf("%s%s-%d", ChannelPrefix, filepath.Base(projectPath), order)
}

// Start marks the dial attempt that the transport is about to begin.
func (p *Panel) Start() {
	p.conn.MarkConnecting()
}

// Close shuts the state machine down after the transport has stopped.
func (p *Panel) Close() {
	p.conn.Close()
}
