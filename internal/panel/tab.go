package panel

import (
	"fmt"
	"log/slog"
	"regexp"
	"sync"

	"github.com/google/uuid"

	"github.com/shellpanel/shellpanel/internal/logging"
)

var tabLog = logging.ForComponent(logging.CompTabs)

// MaxTabs is the hard cap on sub-sessions multiplexed under one
// session. Compiled in, not server-configurable.
const MaxTabs = 8

// ChannelPrefix prefixes every session-channel name. The first tab's
// channel is provisioned before any tab metadata exists, so its display
// name must be recoverable from the channel identifier alone.
const ChannelPrefix = "sp-"

// TabColor is one of the fixed palette values, or empty for none.
type TabColor string

const (
	ColorGreen   TabColor = "green"
	ColorCyan    TabColor = "cyan"
	ColorPurple  TabColor = "purple"
	ColorWarning TabColor = "warning"
	ColorBlue    TabColor = "blue"
	ColorError   TabColor = "error"
	ColorPink    TabColor = "pink"
	ColorOrange  TabColor = "orange"
)

var tabColors = map[TabColor]struct{}{
	ColorGreen: {}, ColorCyan: {}, ColorPurple: {}, ColorWarning: {},
	ColorBlue: {}, ColorError: {}, ColorPink: {}, ColorOrange: {},
}

// Valid reports whether c is in the palette. The empty color (no
// color) is valid.
func (c TabColor) Valid() bool {
	if c == "" {
		return true
	}
	_, ok := tabColors[c]
	return ok
}

// Tab is one sub-channel multiplexed under the current session.
type Tab struct {
	ID          string
	Order       int
	DisplayName string
	Color       TabColor
	Channel     string
	Active      bool
}

// firstChannelName matches channels of the form sp-<Name> with an
// optional numeric suffix; the capture is the project name baked into
// the channel identifier.
var firstChannelName = regexp.MustCompile(`^sp-(.+?)(?:-\d+)?$`)

// Title returns the tab's display name, deriving one when it was never
// set explicitly: the first tab reuses the project name embedded in
// its channel identifier, every other tab falls back to its position.
func (t Tab) Title() string {
	if t.DisplayName != "" {
		return t.DisplayName
	}
	if t.Order == 0 {
		if m := firstChannelName.FindStringSubmatch(t.Channel); m != nil {
			return m[1]
		}
	}
	return fmt.Sprintf("Tab %d", t.Order+1)
}

// TabStore persists tab metadata keyed by (sessionPath, tabID). All
// methods map 1:1 to registry mutations.
type TabStore interface {
	CreateTab(sessionPath string, t Tab) error
	UpdateTab(sessionPath string, t Tab) error
	DeleteTab(sessionPath, tabID string) error
	DeleteSessionTabs(sessionPath string) error
}

// TabRegistry is the ordered, bounded collection of tabs for the
// active session. Orders are dense and 0-based; exactly one tab is
// active whenever any exist. The registry owns the collection
// exclusively; external components never write to it directly.
type TabRegistry struct {
	mu          sync.Mutex
	sessionPath string
	tabs        []*Tab
	store       TabStore // optional
}

// NewTabRegistry creates an empty registry. store may be nil.
func NewTabRegistry(store TabStore) *TabRegistry {
	return &TabRegistry{store: store}
}

// Reset scopes the registry to a new session, discarding all tabs of
// the previous one (tabs die with their owning session).
func (r *TabRegistry) Reset(sessionPath string) {
	r.mu.Lock()
	prev := r.sessionPath
	hadTabs := len(r.tabs) > 0
	r.sessionPath = sessionPath
	r.tabs = nil
	r.mu.Unlock()

	if hadTabs && r.store != nil && prev != "" {
		if err := r.store.DeleteSessionTabs(prev); err != nil {
			tabLog.Warn("tab_cleanup_failed",
				slog.String("session", prev),
				slog.String("error", err.Error()))
		}
	}
}

// SessionPath returns the session the registry is scoped to.
func (r *TabRegistry) SessionPath() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionPath
}

// CreateTabOptions are the optional fields of a new tab.
type CreateTabOptions struct {
	DisplayName string
	Color       TabColor
	Channel     string
}

// Create appends a new tab and makes it active. Rejected with
// ErrTabCapacity at the limit; the registry is left unchanged on any
// rejection.
func (r *TabRegistry) Create(opts CreateTabOptions) (Tab, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sessionPath == "" {
		return Tab{}, ErrNoSession
	}
	if len(r.tabs) >= MaxTabs {
		return Tab{}, fmt.Errorf("%w (%d tabs)", ErrTabCapacity, MaxTabs)
	}
	if !opts.Color.Valid() {
		return Tab{}, fmt.Errorf("%w: %q", ErrInvalidColor, opts.Color)
	}

	t := &Tab{
		ID:          uuid.NewString(),
		Order:       len(r.tabs),
		DisplayName: opts.DisplayName,
		Color:       opts.Color,
		Channel:     opts.Channel,
		Active:      true,
	}
	for _, existing := range r.tabs {
		existing.Active = false
	}
	r.tabs = append(r.tabs, t)

	r.persist(func(s TabStore) error { return s.CreateTab(r.sessionPath, *t) }, "create", t.ID)
	tabLog.Info("tab_created",
		slog.String("session", r.sessionPath),
		slog.String("tab", t.ID),
		slog.Int("order", t.Order))
	return *t, nil
}

// Close removes a tab. The sole remaining tab cannot be closed
// (ErrLastTab: kill the session instead). If the closed tab was
// active, the tab at the nearest remaining order becomes active.
func (r *TabRegistry) Close(tabID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.indexLocked(tabID)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrTabNotFound, tabID)
	}
	if len(r.tabs) == 1 {
		return ErrLastTab
	}

	wasActive := r.tabs[idx].Active
	r.tabs = append(r.tabs[:idx], r.tabs[idx+1:]...)

	// Re-densify orders.
	for i, t := range r.tabs {
		t.Order = i
	}
	if wasActive {
		next := idx
		if next >= len(r.tabs) {
			next = len(r.tabs) - 1
		}
		r.tabs[next].Active = true
	}

	r.persist(func(s TabStore) error { return s.DeleteTab(r.sessionPath, tabID) }, "delete", tabID)
	for _, t := range r.tabs {
		tab := *t
		r.persist(func(s TabStore) error { return s.UpdateTab(r.sessionPath, tab) }, "update", tab.ID)
	}
	tabLog.Info("tab_closed", slog.String("session", r.sessionPath), slog.String("tab", tabID))
	return nil
}

// Rename sets a tab's display name. Idempotent.
func (r *TabRegistry) Rename(tabID, name string) error {
	return r.update(tabID, func(t *Tab) error {
		t.DisplayName = name
		return nil
	})
}

// SetColor sets or clears (empty color) a tab's color. Idempotent.
func (r *TabRegistry) SetColor(tabID string, color TabColor) error {
	if !color.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidColor, color)
	}
	return r.update(tabID, func(t *Tab) error {
		t.Color = color
		return nil
	})
}

// Select marks exactly one tab active. No-op if already active.
func (r *TabRegistry) Select(tabID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.indexLocked(tabID)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrTabNotFound, tabID)
	}
	if r.tabs[idx].Active {
		return nil
	}
	for i, t := range r.tabs {
		t.Active = i == idx
	}
	for _, t := range r.tabs {
		tab := *t
		r.persist(func(s TabStore) error { return s.UpdateTab(r.sessionPath, tab) }, "update", tab.ID)
	}
	return nil
}

// Active returns the active tab, if any tabs exist.
func (r *TabRegistry) Active() (Tab, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tabs {
		if t.Active {
			return *t, true
		}
	}
	return Tab{}, false
}

// List returns a snapshot of all tabs in order.
func (r *TabRegistry) List() []Tab {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Tab, len(r.tabs))
	for i, t := range r.tabs {
		out[i] = *t
	}
	return out
}

// Count returns the number of tabs.
func (r *TabRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tabs)
}

func (r *TabRegistry) update(tabID string, fn func(*Tab) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.indexLocked(tabID)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrTabNotFound, tabID)
	}
	if err := fn(r.tabs[idx]); err != nil {
		return err
	}
	tab := *r.tabs[idx]
	r.persist(func(s TabStore) error { return s.UpdateTab(r.sessionPath, tab) }, "update", tabID)
	return nil
}

func (r *TabRegistry) indexLocked(tabID string) int {
	for i, t := range r.tabs {
		if t.ID == tabID {
			return i
		}
	}
	return -1
}

// persist applies a store mutation, logging rather than failing the
// in-memory operation: the registry is the source of truth, the store
// is a best-effort mirror.
func (r *TabRegistry) persist(fn func(TabStore) error, op, tabID string) {
	if r.store == nil {
		return
	}
	if err := fn(r.store); err != nil {
		tabLog.Warn("tab_persist_failed",
			slog.String("op", op),
			slog.String("tab", tabID),
			slog.String("error", err.Error()))
	}
}
