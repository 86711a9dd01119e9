package panel

import (
	"log/slog"
	"sync"
	"time"

	"github.com/shellpanel/shellpanel/internal/clock"
	"github.com/shellpanel/shellpanel/internal/logging"
	"github.com/shellpanel/shellpanel/internal/protocol"
)

var connLog = logging.ForComponent(logging.CompConn)

// Resume debounce windows. The connect-time window only needs to let
// the host tear down a stale attachment from the previous transport
// instance; process cleanup after an abnormal exit takes longer.
const (
	connectResumeDelay   = 100 * time.Millisecond
	interruptResumeDelay = 500 * time.Millisecond
)

// CommandSender delivers outbound commands to the host.
type CommandSender interface {
	Send(cmd protocol.Command) error
}

// Reconnector decides when and for which target to issue a resume
// command. At most one scheduled resume is outstanding at a time;
// scheduling a new one cancels the previous, and a resume whose target
// is no longer current (by path or epoch) at fire time is dropped.
//
// There is no retry on failure: an unacknowledged resume leaves the
// session in RECOVERING until the user reselects or kills it.
type Reconnector struct {
	mu       sync.Mutex
	clk      clock.Clock
	sessions *SessionRegistry
	resolver *BootstrapResolver
	sender   CommandSender
	pending  *pendingResume
}

type pendingResume struct {
	path  string
	epoch uint64
	timer *clock.Timer
}

// NewReconnector wires the policy to its collaborators. The resolver
// may be nil (bootstrap disabled), in which case a connect with no
// current session does nothing.
func NewReconnector(clk clock.Clock, sessions *SessionRegistry, resolver *BootstrapResolver, sender CommandSender) *Reconnector {
	if clk == nil {
		clk = clock.Real()
	}
	return &Reconnector{
		clk:      clk,
		sessions: sessions,
		resolver: resolver,
		sender:   sender,
	}
}

// OnConnected runs once per transition into CONNECTED. An existing
// current session gets a short-delay resume; otherwise the bootstrap
// resolver decides whether to auto-attach (it is never consulted when
// a session is already current).
func (rc *Reconnector) OnConnected() {
	if cur, ok := rc.sessions.Current(); ok {
		rc.Schedule(cur.ProjectPath, rc.sessions.Epoch(), connectResumeDelay)
		return
	}
	if rc.resolver != nil {
		go rc.resolver.Run(rc.sessions.Epoch())
	}
}

// OnInterrupted schedules a longer-delay resume for a session that
// exited unexpectedly while still current.
func (rc *Reconnector) OnInterrupted(projectPath string) {
	rc.Schedule(projectPath, rc.sessions.Epoch(), interruptResumeDelay)
}

// OnDisconnected cancels any pending resume; a fresh one is scheduled
// on the next CONNECTED transition.
func (rc *Reconnector) OnDisconnected() {
	rc.mu.Lock()
	rc.cancelPendingLocked()
	rc.mu.Unlock()
}

// Schedule arms a delayed resume for projectPath, replacing any pending
// one. The epoch is captured now and re-checked at fire time.
func (rc *Reconnector) Schedule(projectPath string, epoch uint64, delay time.Duration) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	rc.cancelPendingLocked()

	p := &pendingResume{path: projectPath, epoch: epoch}
	p.timer = rc.clk.AfterFunc(delay, func() { rc.fire(p) })
	rc.pending = p

	connLog.Debug("resume_scheduled",
		slog.String("path", projectPath),
		slog.Duration("delay", delay))
}

func (rc *Reconnector) cancelPendingLocked() {
	if rc.pending == nil {
		return
	}
	if rc.pending.timer.Stop() {
		connLog.Debug("resume_cancelled", slog.String("path", rc.pending.path))
	}
	rc.pending = nil
}

func (rc *Reconnector) fire(p *pendingResume) {
	rc.mu.Lock()
	if rc.pending == p {
		rc.pending = nil
	}
	rc.mu.Unlock()

	cur, ok := rc.sessions.Current()
	if !ok || cur.ProjectPath != p.path || !rc.sessions.EpochIs(p.epoch) {
		connLog.Debug("stale_resume_dropped", slog.String("path", p.path))
		return
	}

	if err := rc.sender.Send(protocol.Command{Type: protocol.CmdResumeSession, Path: p.path}); err != nil {
		connLog.Warn("resume_send_failed",
			slog.String("path", p.path),
			slog.String("error", err.Error()))
		return
	}
	connLog.Info("resume_sent", slog.String("path", p.path))
}
