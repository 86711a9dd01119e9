package panel

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shellpanel/shellpanel/internal/logging"
)

var bootstrapLog = logging.ForComponent(logging.CompBootstrap)

// Settings is the slice of user settings the resolver cares about.
type Settings struct {
	AutoReconnect bool `json:"autoReconnect"`
}

// PersistedSession is one row of the persisted session history,
// ordered most-recent-first by the provider.
type PersistedSession struct {
	ProjectName  string    `json:"projectName"`
	ProjectPath  string    `json:"projectPath"`
	LastActiveAt time.Time `json:"lastActiveAt"`
}

// SettingsClient fetches user settings from the bootstrap REST surface.
type SettingsClient interface {
	FetchSettings(ctx context.Context) (Settings, error)
}

// HistoryClient fetches the persisted session history, newest first.
type HistoryClient interface {
	RecentSessions(ctx context.Context) ([]PersistedSession, error)
}

// BootstrapResolver picks at most one session to auto-resume on a
// fresh connection with no current session. It runs at most once per
// CONNECTED transition (the reconnect policy is the only caller).
//
// Failure policy is fail-open to "no auto-resume": a settings fetch
// failure falls back to auto-reconnect enabled, but a history fetch
// failure resolves to none — the resolver never guesses a project to
// attach to without a real history row.
type BootstrapResolver struct {
	settings SettingsClient
	history  HistoryClient
	sessions *SessionRegistry

	// schedule arms the connect-time resume for the chosen path; wired
	// to Reconnector.Schedule.
	schedule func(projectPath string, epoch uint64, delay time.Duration)

	fetchTimeout time.Duration
}

// NewBootstrapResolver creates a resolver. schedule is wired by the
// Panel to the reconnect policy.
func NewBootstrapResolver(settings SettingsClient, history HistoryClient, sessions *SessionRegistry) *BootstrapResolver {
	return &BootstrapResolver{
		settings:     settings,
		history:      history,
		sessions:     sessions,
		fetchTimeout: 10 * time.Second,
	}
}

func (b *BootstrapResolver) setSchedule(fn func(projectPath string, epoch uint64, delay time.Duration)) {
	b.schedule = fn
}

// Run resolves and, on success, sets the chosen session current and
// schedules its resume. The epoch captured at the CONNECTED transition
// guards against the user selecting a project while the fetches were
// in flight.
func (b *BootstrapResolver) Run(epoch uint64) {
	pick, ok := b.resolve()
	if !ok {
		return
	}

	if !b.sessions.EpochIs(epoch) {
		bootstrapLog.Debug("bootstrap_abandoned", slog.String("path", pick.ProjectPath))
		return
	}

	b.sessions.SetCurrent(pick.ProjectPath)
	if b.schedule != nil {
		b.schedule(pick.ProjectPath, b.sessions.Epoch(), connectResumeDelay)
	}
	bootstrapLog.Info("bootstrap_resumed",
		slog.String("path", pick.ProjectPath),
		slog.String("name", pick.ProjectName))
}

// resolve fetches settings and history concurrently and picks the most
// recent persisted session, if auto-reconnect allows one.
func (b *BootstrapResolver) resolve() (PersistedSession, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), b.fetchTimeout)
	defer cancel()

	settings := Settings{AutoReconnect: true}
	var records []PersistedSession
	var historyErr error

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s, err := b.settings.FetchSettings(ctx)
		if err != nil {
			// Fail open: missing settings never block auto-resume.
			bootstrapLog.Warn("settings_fetch_failed", slog.String("error", err.Error()))
			return nil
		}
		settings = s
		return nil
	})
	g.Go(func() error {
		records, historyErr = b.history.RecentSessions(ctx)
		return nil
	})
	_ = g.Wait()

	if historyErr != nil {
		bootstrapLog.Warn("history_fetch_failed", slog.String("error", historyErr.Error()))
		return PersistedSession{}, false
	}
	if !settings.AutoReconnect {
		bootstrapLog.Debug("bootstrap_disabled")
		return PersistedSession{}, false
	}
	if len(records) == 0 {
		bootstrapLog.Debug("bootstrap_no_history")
		return PersistedSession{}, false
	}
	return records[0], true
}
