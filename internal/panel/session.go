package panel

import (
	"log/slog"
	"sync"
	"time"

	"github.com/shellpanel/shellpanel/internal/clock"
	"github.com/shellpanel/shellpanel/internal/logging"
)

var sessionLog = logging.ForComponent(logging.CompSession)

// SessionStatus tracks the lifecycle of the current session.
type SessionStatus string

const (
	StatusNone       SessionStatus = "none"
	StatusPending    SessionStatus = "pending"
	StatusReady      SessionStatus = "ready"
	StatusRecovering SessionStatus = "recovering"
	StatusExited     SessionStatus = "exited"
	StatusKilled     SessionStatus = "killed"
)

// Session is the long-lived remote process bound to one project path.
// Its identity outlives any single transport connection.
type Session struct {
	ProjectPath string
	Status      SessionStatus
	StartedAt   time.Time
}

// SessionRegistry owns the single current-session pointer. At most one
// session is current at a time; every replacement of the pointer bumps
// an epoch counter, and anything scheduled against an older epoch is
// stale and must be dropped by its owner at resolution time.
//
// All mutation goes through the registry's methods; other components
// read synchronous snapshots via Current().
type SessionRegistry struct {
	mu      sync.Mutex
	current *Session
	epoch   uint64
	clk     clock.Clock

	// interrupted is invoked (outside the lock) when the current
	// session exits unexpectedly; wired to the reconnect policy.
	interrupted func(projectPath string)

	// refreshProjects is invoked (outside the lock) when a session
	// event should refresh the external project listing. Optional.
	refreshProjects func()
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry(clk clock.Clock) *SessionRegistry {
	if clk == nil {
		clk = clock.Real()
	}
	return &SessionRegistry{clk: clk}
}

// OnInterrupted registers the hook invoked when the current session
// exits unexpectedly.
func (r *SessionRegistry) OnInterrupted(fn func(projectPath string)) {
	r.mu.Lock()
	r.interrupted = fn
	r.mu.Unlock()
}

// OnRefreshProjects registers the project-listing refresh hook.
func (r *SessionRegistry) OnRefreshProjects(fn func()) {
	r.mu.Lock()
	r.refreshProjects = fn
	r.mu.Unlock()
}

// SetCurrent replaces the current session pointer unconditionally. Any
// in-flight resume or bootstrap fetch for a previous tenure becomes
// stale because the epoch advances.
func (r *SessionRegistry) SetCurrent(projectPath string) Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.epoch++
	r.current = &Session{
		ProjectPath: projectPath,
		Status:      StatusPending,
		StartedAt:   r.clk.Now(),
	}
	sessionLog.Info("session_selected",
		slog.String("path", projectPath),
		slog.Uint64("epoch", r.epoch))
	return *r.current
}

// ClearCurrent drops the current session pointer. Used on kill or
// explicit deselection.
func (r *SessionRegistry) ClearCurrent() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return
	}
	r.epoch++
	sessionLog.Info("session_cleared", slog.String("path", r.current.ProjectPath))
	r.current = nil
}

// Current returns a snapshot of the current session, if any.
func (r *SessionRegistry) Current() (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return Session{}, false
	}
	return *r.current, true
}

// Epoch returns the current tenure counter. Callers scheduling delayed
// or asynchronous work capture it and verify it with EpochIs before
// acting on the result.
func (r *SessionRegistry) Epoch() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.epoch
}

// EpochIs reports whether the pointer has not been replaced since the
// given epoch was captured.
func (r *SessionRegistry) EpochIs(epoch uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.epoch == epoch
}

// OnReady marks the current session READY. Notifications for a
// non-current path are stale and dropped.
func (r *SessionRegistry) OnReady(projectPath string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil || r.current.ProjectPath != projectPath {
		sessionLog.Debug("stale_ready_dropped", slog.String("path", projectPath))
		return
	}
	r.current.Status = StatusReady
	sessionLog.Info("session_ready", slog.String("path", projectPath))
}

// OnExited handles an unexpected exit. If the exited session is still
// current it moves to RECOVERING and the interrupted hook schedules a
// delayed resume; otherwise the event only refreshes project listings.
func (r *SessionRegistry) OnExited(projectPath string, exitCode int) {
	r.mu.Lock()
	if r.current == nil || r.current.ProjectPath != projectPath {
		refresh := r.refreshProjects
		r.mu.Unlock()
		sessionLog.Debug("stale_exit_dropped",
			slog.String("path", projectPath),
			slog.Int("exit_code", exitCode))
		if refresh != nil {
			refresh()
		}
		return
	}
	r.current.Status = StatusRecovering
	interrupted := r.interrupted
	r.mu.Unlock()

	sessionLog.Warn("session_interrupted",
		slog.String("path", projectPath),
		slog.Int("exit_code", exitCode))
	if interrupted != nil {
		interrupted(projectPath)
	}
}

// OnKilled handles an explicit kill. Kills are terminal: the pointer is
// cleared and never auto-resumed. Project listings always refresh.
func (r *SessionRegistry) OnKilled(projectPath string) {
	r.mu.Lock()
	matched := r.current != nil && r.current.ProjectPath == projectPath
	if matched {
		r.current.Status = StatusKilled
		r.current = nil
		r.epoch++
	}
	refresh := r.refreshProjects
	r.mu.Unlock()

	sessionLog.Info("session_killed",
		slog.String("path", projectPath),
		slog.Bool("was_current", matched))
	if refresh != nil {
		refresh()
	}
}
