package panel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shellpanel/shellpanel/internal/clock"
	"github.com/shellpanel/shellpanel/internal/protocol"
)

func newTestPanel(t *testing.T) (*Panel, *recordingSender, *clock.FakeClock) {
	t.Helper()
	clk := clock.NewFake(time.Unix(0, 0))
	sender := &recordingSender{}
	p := New(Options{Clock: clk, Sender: sender})
	return p, sender, clk
}

func TestSelectProjectSendsSelectCommand(t *testing.T) {
	p, sender, _ := newTestPanel(t)

	require.NoError(t, p.SelectProject("/home/dev/app"))

	cmds := sender.commands()
	require.Len(t, cmds, 1)
	assert.Equal(t, protocol.CmdSelectSession, cmds[0].Type)
	assert.Equal(t, "/home/dev/app", cmds[0].Path)

	cur, ok := p.Sessions().Current()
	require.True(t, ok)
	assert.Equal(t, StatusPending, cur.Status)
	assert.Equal(t, "/home/dev/app", p.Tabs().SessionPath())
}

func TestSessionReadyProvisionsFirstTab(t *testing.T) {
	p, _, _ := newTestPanel(t)
	require.NoError(t, p.SelectProject("/home/dev/app"))

	p.HandleEvent(protocol.Event{Type: protocol.EventSessionReady, ProjectPath: "/home/dev/app"})

	tabs := p.Tabs().List()
	require.Len(t, tabs, 1)
	assert.Equal(t, "sp-app", tabs[0].Channel)
	assert.Equal(t, "app", tabs[0].Title())
	assert.True(t, tabs[0].Active)
}

func TestStaleReadyDoesNotProvisionTabs(t *testing.T) {
	p, _, _ := newTestPanel(t)
	require.NoError(t, p.SelectProject("/p/a"))

	p.HandleEvent(protocol.Event{Type: protocol.EventSessionReady, ProjectPath: "/p/zombie"})
	assert.Zero(t, p.Tabs().Count())
}

func TestResumedReadyKeepsExistingTabs(t *testing.T) {
	p, _, _ := newTestPanel(t)
	require.NoError(t, p.SelectProject("/p/a"))
	p.HandleEvent(protocol.Event{Type: protocol.EventSessionReady, ProjectPath: "/p/a"})

	_, err := p.NewTab(CreateTabOptions{})
	require.NoError(t, err)
	require.Equal(t, 2, p.Tabs().Count())

	// A resumed ready for the same session must not reset the tabs.
	p.HandleEvent(protocol.Event{Type: protocol.EventSessionReady, ProjectPath: "/p/a", Resumed: true})
	assert.Equal(t, 2, p.Tabs().Count())
}

func TestKillSessionFlow(t *testing.T) {
	p, sender, _ := newTestPanel(t)
	require.NoError(t, p.SelectProject("/p/a"))
	p.HandleEvent(protocol.Event{Type: protocol.EventSessionReady, ProjectPath: "/p/a"})

	require.NoError(t, p.KillSession())
	var kills int
	for _, cmd := range sender.commands() {
		if cmd.Type == protocol.CmdKillSession && cmd.Path == "/p/a" {
			kills++
		}
	}
	assert.Equal(t, 1, kills)

	p.HandleEvent(protocol.Event{Type: protocol.EventSessionKill, ProjectPath: "/p/a"})
	_, ok := p.Sessions().Current()
	assert.False(t, ok)
}

func TestKillWithoutSessionRejected(t *testing.T) {
	p, _, _ := newTestPanel(t)
	assert.ErrorIs(t, p.KillSession(), ErrNoSession)
}

func TestSendInputTargetsActiveTabChannel(t *testing.T) {
	p, sender, _ := newTestPanel(t)
	require.NoError(t, p.SelectProject("/home/dev/app"))
	p.HandleEvent(protocol.Event{Type: protocol.EventSessionReady, ProjectPath: "/home/dev/app"})

	second, err := p.NewTab(CreateTabOptions{})
	require.NoError(t, err)
	assert.Equal(t, "sp-app-1", second.Channel)

	require.NoError(t, p.SendInput([]byte("ls\r")))

	cmds := sender.commands()
	last := cmds[len(cmds)-1]
	assert.Equal(t, protocol.CmdSessionInput, last.Type)
	assert.Equal(t, "sp-app-1", last.Channel, "input goes to the active tab")
	assert.Equal(t, []byte("ls\r"), last.Data)
}

func TestSendInputWithoutSessionRejected(t *testing.T) {
	p, _, _ := newTestPanel(t)
	assert.ErrorIs(t, p.SendInput([]byte("x")), ErrNoSession)
}

func TestResizeValidation(t *testing.T) {
	p, sender, _ := newTestPanel(t)
	require.NoError(t, p.SelectProject("/p/a"))

	assert.Error(t, p.Resize(0, 24))
	require.NoError(t, p.Resize(120, 36))

	cmds := sender.commands()
	last := cmds[len(cmds)-1]
	assert.Equal(t, protocol.CmdSessionResize, last.Type)
	assert.Equal(t, 120, last.Cols)
	assert.Equal(t, 36, last.Rows)
}

func TestDeselectLeavesRemoteSessionRunning(t *testing.T) {
	p, sender, _ := newTestPanel(t)
	require.NoError(t, p.SelectProject("/p/a"))
	before := len(sender.commands())

	p.Deselect()

	_, ok := p.Sessions().Current()
	assert.False(t, ok)
	assert.Len(t, sender.commands(), before, "deselect sends no kill")
}

func TestSelectProjectInvalidatesInFlightResume(t *testing.T) {
	p, sender, clk := newTestPanel(t)
	require.NoError(t, p.SelectProject("/p/x"))
	p.HandleEvent(protocol.Event{Type: protocol.EventConnect})
	p.HandleEvent(protocol.Event{Type: protocol.EventSessionReady, ProjectPath: "/p/x"})

	// Exit schedules a 500ms resume for /p/x.
	p.HandleEvent(protocol.Event{Type: protocol.EventSessionExit, ProjectPath: "/p/x", ExitCode: 1})

	// User switches projects before it fires.
	require.NoError(t, p.SelectProject("/p/y"))

	clk.Advance(time.Second)
	assert.Zero(t, sender.resumesFor("/p/x"))
}
