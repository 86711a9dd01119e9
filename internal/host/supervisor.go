package host

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"

	"github.com/shellpanel/shellpanel/internal/logging"
	"github.com/shellpanel/shellpanel/internal/panel"
	"github.com/shellpanel/shellpanel/internal/protocol"
	"github.com/shellpanel/shellpanel/internal/store"
)

var hostLog = logging.ForComponent(logging.CompHost)

// ErrUnknownSession is returned for commands targeting a project with
// no running session.
var ErrUnknownSession = errors.New("host: unknown session")

// Supervisor owns the shell sessions. Each project path gets at most
// one session; a session multiplexes up to panel.MaxTabs pty-backed
// channels. Sessions outlive panel connections: a dropped transport
// leaves every shell running detached.
type Supervisor struct {
	mu       sync.Mutex
	shell    string
	store    *store.Store // optional
	sessions map[string]*shellSession

	// broadcast delivers an event to every attached panel.
	broadcast func(protocol.Event)
}

type shellSession struct {
	projectPath string
	projectName string
	channels    map[string]*channelProc
	cols, rows  int
	startedAt   time.Time
	killed      bool
}

type channelProc struct {
	name string
	cmd  *exec.Cmd
	ptmx *os.File

	closeOnce sync.Once
}

// NewSupervisor creates a supervisor. shell empty means $SHELL or
// /bin/sh. st may be nil (no history persistence).
func NewSupervisor(shell string, st *store.Store) *Supervisor {
	if shell == "" {
		shell = os.Getenv("SHELL")
	}
	if shell == "" {
		shell = "/bin/sh"
	}
	return &Supervisor{
		shell:    shell,
		store:    st,
		sessions: make(map[string]*shellSession),
	}
}

// SetBroadcast wires the event sink. Must be set before any command is
// handled.
func (sv *Supervisor) SetBroadcast(fn func(protocol.Event)) {
	sv.mu.Lock()
	sv.broadcast = fn
	sv.mu.Unlock()
}

// HandleCommand executes one panel command. Errors surface as
// session-error events rather than unwinding to the websocket handler.
func (sv *Supervisor) HandleCommand(cmd protocol.Command) {
	var err error
	switch cmd.Type {
	case protocol.CmdSelectSession:
		err = sv.Select(cmd.Path)
	case protocol.CmdResumeSession:
		err = sv.Resume(cmd.Path)
	case protocol.CmdKillSession:
		err = sv.Kill(cmd.Path)
	case protocol.CmdSessionInput:
		err = sv.Input(cmd.Path, cmd.Channel, cmd.Data)
	case protocol.CmdSessionResize:
		err = sv.Resize(cmd.Path, cmd.Cols, cmd.Rows)
	case protocol.CmdPing:
		// Liveness only; nothing to do.
	default:
		err = fmt.Errorf("unsupported command %q", cmd.Type)
	}
	if err != nil {
		hostLog.Warn("command_failed",
			slog.String("type", cmd.Type),
			slog.String("path", cmd.Path),
			slog.String("error", err.Error()))
		sv.emit(protocol.Event{
			Type:        protocol.EventSessionError,
			ProjectPath: cmd.Path,
			Message:     err.Error(),
		})
	}
}

// Select attaches to the project's session, starting it if needed.
func (sv *Supervisor) Select(projectPath string) error {
	if err := validateProjectPath(projectPath); err != nil {
		return err
	}

	sv.mu.Lock()
	sess, running := sv.sessions[projectPath]
	if !running {
		var err error
		sess, err = sv.startSessionLocked(projectPath)
		if err != nil {
			sv.mu.Unlock()
			return err
		}
	}
	name := sess.projectName
	sv.mu.Unlock()

	sv.touchHistory(projectPath, name)
	sv.emit(protocol.Event{
		Type:        protocol.EventSessionReady,
		ProjectPath: projectPath,
		Resumed:     running,
	})
	return nil
}

// Resume re-attaches to a running session, or restarts a dead one.
// The ready event's resumed flag tells the panel which happened.
func (sv *Supervisor) Resume(projectPath string) error {
	if err := validateProjectPath(projectPath); err != nil {
		return err
	}

	sv.mu.Lock()
	_, running := sv.sessions[projectPath]
	if !running {
		if _, err := sv.startSessionLocked(projectPath); err != nil {
			sv.mu.Unlock()
			return err
		}
	}
	sv.mu.Unlock()

	sv.emit(protocol.Event{
		Type:        protocol.EventSessionReady,
		ProjectPath: projectPath,
		Resumed:     running,
	})
	return nil
}

// Kill terminates every channel of the session. Terminal: the panel
// never auto-resumes a killed session.
func (sv *Supervisor) Kill(projectPath string) error {
	sv.mu.Lock()
	sess, ok := sv.sessions[projectPath]
	if !ok {
		sv.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownSession, projectPath)
	}
	sess.killed = true
	delete(sv.sessions, projectPath)
	channels := make([]*channelProc, 0, len(sess.channels))
	for _, ch := range sess.channels {
		channels = append(channels, ch)
	}
	sv.mu.Unlock()

	for _, ch := range channels {
		ch.terminate()
	}
	hostLog.Info("session_killed", slog.String("path", projectPath))
	sv.emit(protocol.Event{Type: protocol.EventSessionKill, ProjectPath: projectPath})
	return nil
}

// Input writes keystrokes to a channel, provisioning the channel's
// shell on first use (tab channels are created lazily: the panel only
// names them).
func (sv *Supervisor) Input(projectPath, channel string, data []byte) error {
	sv.mu.Lock()
	sess, ok := sv.sessions[projectPath]
	if !ok {
		sv.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownSession, projectPath)
	}
	if channel == "" {
		channel = firstChannelName(projectPath)
	}
	ch, ok := sess.channels[channel]
	if !ok {
		if len(sess.channels) >= panel.MaxTabs {
			sv.mu.Unlock()
			return fmt.Errorf("channel limit reached for %s", projectPath)
		}
		var err error
		ch, err = sv.startChannelLocked(sess, channel)
		if err != nil {
			sv.mu.Unlock()
			return err
		}
	}
	sv.mu.Unlock()

	if len(data) == 0 {
		return nil
	}
	_, err := ch.ptmx.Write(data)
	return err
}

// Resize applies terminal dimensions to every channel of the session
// and remembers them for channels created later.
func (sv *Supervisor) Resize(projectPath string, cols, rows int) error {
	if cols <= 0 || rows <= 0 {
		return fmt.Errorf("invalid dimensions: cols=%d rows=%d", cols, rows)
	}
	sv.mu.Lock()
	sess, ok := sv.sessions[projectPath]
	if !ok {
		sv.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownSession, projectPath)
	}
	sess.cols, sess.rows = cols, rows
	channels := make([]*channelProc, 0, len(sess.channels))
	for _, ch := range sess.channels {
		channels = append(channels, ch)
	}
	sv.mu.Unlock()

	ws := &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)}
	for _, ch := range channels {
		_ = pty.Setsize(ch.ptmx, ws)
	}
	return nil
}

// Running reports whether a session exists for the path.
func (sv *Supervisor) Running(projectPath string) bool {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	_, ok := sv.sessions[projectPath]
	return ok
}

// RunningPaths returns the project paths with live sessions.
func (sv *Supervisor) RunningPaths() []string {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	out := make([]string, 0, len(sv.sessions))
	for path := range sv.sessions {
		out = append(out, path)
	}
	return out
}

// Shutdown terminates every session without emitting events.
func (sv *Supervisor) Shutdown() {
	sv.mu.Lock()
	var channels []*channelProc
	for _, sess := range sv.sessions {
		sess.killed = true
		for _, ch := range sess.channels {
			channels = append(channels, ch)
		}
	}
	sv.sessions = make(map[string]*shellSession)
	sv.mu.Unlock()

	for _, ch := range channels {
		ch.terminate()
	}
}

func (sv *Supervisor) startSessionLocked(projectPath string) (*shellSession, error) {
	sess := &shellSession{
		projectPath: projectPath,
		projectName: filepath.Base(projectPath),
		channels:    make(map[string]*channelProc),
		startedAt:   time.Now(),
	}
	if _, err := sv.startChannelLocked(sess, firstChannelName(projectPath)); err != nil {
		return nil, err
	}
	sv.sessions[projectPath] = sess
	hostLog.Info("session_started",
		slog.String("path", projectPath),
		slog.String("channel", firstChannelName(projectPath)))
	return sess, nil
}

func (sv *Supervisor) startChannelLocked(sess *shellSession, channel string) (*channelProc, error) {
	cmd := exec.Command(sv.shell)
	cmd.Dir = sess.projectPath
	cmd.Env = append(os.Environ(), "SHELLPANEL_CHANNEL="+channel)

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("start shell for %s: %w", channel, err)
	}
	if sess.cols > 0 && sess.rows > 0 {
		_ = pty.Setsize(ptmx, &pty.Winsize{Cols: uint16(sess.cols), Rows: uint16(sess.rows)})
	}

	ch := &channelProc{name: channel, cmd: cmd, ptmx: ptmx}
	sess.channels[channel] = ch
	go sv.pumpChannel(sess, ch)
	return ch, nil
}

// pumpChannel streams pty output to the panels until the process
// dies. Death of the session's first channel is death of the session.
func (sv *Supervisor) pumpChannel(sess *shellSession, ch *channelProc) {
	buf := make([]byte, 4096)
	for {
		n, err := ch.ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			sv.emit(protocol.Event{
				Type:        protocol.EventOutput,
				ProjectPath: sess.projectPath,
				Channel:     ch.name,
				Data:        chunk,
			})
		}
		if err != nil {
			break
		}
	}

	exitCode := ch.wait()

	sv.mu.Lock()
	killed := sess.killed
	delete(sess.channels, ch.name)
	primary := ch.name == firstChannelName(sess.projectPath)
	var rest []*channelProc
	if primary && !killed {
		for _, other := range sess.channels {
			rest = append(rest, other)
		}
		sess.killed = true
		delete(sv.sessions, sess.projectPath)
	}
	sv.mu.Unlock()

	if killed || !primary {
		return
	}

	for _, other := range rest {
		other.terminate()
	}
	hostLog.Warn("session_exited",
		slog.String("path", sess.projectPath),
		slog.Int("exit_code", exitCode))
	sv.emit(protocol.Event{
		Type:        protocol.EventSessionExit,
		ProjectPath: sess.projectPath,
		ExitCode:    exitCode,
	})
}

func (sv *Supervisor) emit(ev protocol.Event) {
	sv.mu.Lock()
	broadcast := sv.broadcast
	sv.mu.Unlock()
	if broadcast != nil {
		broadcast(ev)
	}
}

func (sv *Supervisor) touchHistory(projectPath, projectName string) {
	if sv.store == nil {
		return
	}
	if err := sv.store.TouchSession(projectPath, projectName, time.Now()); err != nil {
		hostLog.Warn("history_touch_failed",
			slog.String("path", projectPath),
			slog.String("error", err.Error()))
	}
}

func (ch *channelProc) terminate() {
	ch.closeOnce.Do(func() {
		if ch.ptmx != nil {
			_ = ch.ptmx.Close()
		}
		if ch.cmd != nil && ch.cmd.Process != nil {
			pgid, err := syscall.Getpgid(ch.cmd.Process.Pid)
			if err == nil {
				_ = syscall.Kill(-pgid, syscall.SIGTERM)
			} else {
				_ = ch.cmd.Process.Kill()
			}
		}
	})
}

func (ch *channelProc) wait() int {
	if ch.cmd == nil {
		return 0
	}
	err := ch.cmd.Wait()
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func firstChannelName(projectPath string) string {
	return panel.ChannelPrefix + filepath.Base(projectPath)
}

func validateProjectPath(path string) error {
	if path == "" {
		return fmt.Errorf("project path is required")
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("project path %s: %w", path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("project path %s is not a directory", path)
	}
	return nil
}
