package panel

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTabRegistry(t *testing.T) *TabRegistry {
	t.Helper()
	r := NewTabRegistry(nil)
	r.Reset("/p/app")
	return r
}

func TestCreateAssignsDenseOrdersAndActivatesNewTab(t *testing.T) {
	r := newTabRegistry(t)

	first, err := r.Create(CreateTabOptions{Channel: "sp-app"})
	require.NoError(t, err)
	assert.Equal(t, 0, first.Order)
	assert.True(t, first.Active)

	second, err := r.Create(CreateTabOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, second.Order)
	assert.True(t, second.Active)

	active, ok := r.Active()
	require.True(t, ok)
	assert.Equal(t, second.ID, active.ID, "exactly one active tab")
}

func TestCreateRejectedAtCapacity(t *testing.T) {
	r := newTabRegistry(t)
	for i := 0; i < MaxTabs; i++ {
		_, err := r.Create(CreateTabOptions{})
		require.NoError(t, err)
	}

	_, err := r.Create(CreateTabOptions{})
	require.ErrorIs(t, err, ErrTabCapacity)
	assert.Equal(t, MaxTabs, r.Count(), "registry unchanged after rejection")
}

func TestCreateWithoutSessionRejected(t *testing.T) {
	r := NewTabRegistry(nil)
	_, err := r.Create(CreateTabOptions{})
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestCreateRejectsInvalidColor(t *testing.T) {
	r := newTabRegistry(t)
	_, err := r.Create(CreateTabOptions{Color: "magenta"})
	assert.ErrorIs(t, err, ErrInvalidColor)
	assert.Zero(t, r.Count())
}

func TestCloseLastTabRejected(t *testing.T) {
	r := newTabRegistry(t)
	tab, err := r.Create(CreateTabOptions{})
	require.NoError(t, err)

	err = r.Close(tab.ID)
	require.ErrorIs(t, err, ErrLastTab)
	assert.Equal(t, 1, r.Count())
}

func TestCloseActiveTabActivatesNeighbor(t *testing.T) {
	r := newTabRegistry(t)
	var tabs []Tab
	for i := 0; i < 3; i++ {
		tab, err := r.Create(CreateTabOptions{})
		require.NoError(t, err)
		tabs = append(tabs, tab)
	}

	require.NoError(t, r.Select(tabs[1].ID))
	require.NoError(t, r.Close(tabs[1].ID))

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, []int{0, 1}, []int{list[0].Order, list[1].Order}, "orders re-densified")

	active, ok := r.Active()
	require.True(t, ok)
	assert.Equal(t, tabs[2].ID, active.ID, "the tab at the nearest remaining order takes over")
}

func TestCloseInactiveTabKeepsActive(t *testing.T) {
	r := newTabRegistry(t)
	a, _ := r.Create(CreateTabOptions{})
	b, _ := r.Create(CreateTabOptions{})
	require.NoError(t, r.Select(b.ID))

	require.NoError(t, r.Close(a.ID))

	active, ok := r.Active()
	require.True(t, ok)
	assert.Equal(t, b.ID, active.ID)
	assert.Equal(t, 0, active.Order)
}

func TestSelectIsIdempotent(t *testing.T) {
	r := newTabRegistry(t)
	a, _ := r.Create(CreateTabOptions{})
	b, _ := r.Create(CreateTabOptions{})

	require.NoError(t, r.Select(a.ID))
	require.NoError(t, r.Select(a.ID))

	list := r.List()
	assert.True(t, list[0].Active)
	assert.False(t, list[1].Active)
	_ = b
}

func TestRenameAndSetColor(t *testing.T) {
	r := newTabRegistry(t)
	tab, _ := r.Create(CreateTabOptions{})

	require.NoError(t, r.Rename(tab.ID, "build"))
	require.NoError(t, r.SetColor(tab.ID, ColorCyan))

	got := r.List()[0]
	assert.Equal(t, "build", got.DisplayName)
	assert.Equal(t, ColorCyan, got.Color)

	// Clearing the color is allowed.
	require.NoError(t, r.SetColor(tab.ID, ""))
	assert.Empty(t, r.List()[0].Color)

	err := r.SetColor(tab.ID, "chartreuse")
	assert.ErrorIs(t, err, ErrInvalidColor)
}

func TestOperationsOnUnknownTab(t *testing.T) {
	r := newTabRegistry(t)
	_, _ = r.Create(CreateTabOptions{})

	assert.ErrorIs(t, r.Close("nope"), ErrTabNotFound)
	assert.ErrorIs(t, r.Rename("nope", "x"), ErrTabNotFound)
	assert.ErrorIs(t, r.Select("nope"), ErrTabNotFound)
}

func TestTabTitleDerivation(t *testing.T) {
	tests := []struct {
		name string
		tab  Tab
		want string
	}{
		{
			name: "explicit name wins",
			tab:  Tab{DisplayName: "logs", Order: 0, Channel: "sp-my-app"},
			want: "logs",
		},
		{
			name: "first tab derives from channel",
			tab:  Tab{Order: 0, Channel: "sp-my-app"},
			want: "my-app",
		},
		{
			name: "numeric suffix stripped",
			tab:  Tab{Order: 0, Channel: "sp-my-app-2"},
			want: "my-app",
		},
		{
			name: "later tabs fall back to position",
			tab:  Tab{Order: 2, Channel: "something-else"},
			want: "Tab 3",
		},
		{
			name: "first tab without channel pattern falls back",
			tab:  Tab{Order: 0, Channel: "scratch"},
			want: "Tab 1",
		},
		{
			name: "pattern ignored for non-zero order",
			tab:  Tab{Order: 1, Channel: "sp-my-app"},
			want: "Tab 2",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.tab.Title())
		})
	}
}

func TestResetDropsTabsAndRescopes(t *testing.T) {
	r := newTabRegistry(t)
	for i := 0; i < 3; i++ {
		_, err := r.Create(CreateTabOptions{})
		require.NoError(t, err)
	}

	r.Reset("/p/other")
	assert.Zero(t, r.Count())
	assert.Equal(t, "/p/other", r.SessionPath())
}

func TestChannelNames(t *testing.T) {
	assert.Equal(t, "sp-app", FirstChannel("/home/dev/app"))
	assert.Equal(t, "sp-app", ChannelName("/home/dev/app", 0))
	assert.Equal(t, "sp-app-3", ChannelName("/home/dev/app", 3))
}

// mockTabStore records persistence calls.
type mockTabStore struct {
	created []string
	deleted []string
	updated []string
	cleared []string
}

func (m *mockTabStore) CreateTab(sessionPath string, t Tab) error {
	m.created = append(m.created, fmt.Sprintf("%s/%s", sessionPath, t.ID))
	return nil
}

func (m *mockTabStore) UpdateTab(sessionPath string, t Tab) error {
	m.updated = append(m.updated, fmt.Sprintf("%s/%s", sessionPath, t.ID))
	return nil
}

func (m *mockTabStore) DeleteTab(sessionPath, tabID string) error {
	m.deleted = append(m.deleted, fmt.Sprintf("%s/%s", sessionPath, tabID))
	return nil
}

func (m *mockTabStore) DeleteSessionTabs(sessionPath string) error {
	m.cleared = append(m.cleared, sessionPath)
	return nil
}

func TestRegistryMirrorsMutationsToStore(t *testing.T) {
	store := &mockTabStore{}
	r := NewTabRegistry(store)
	r.Reset("/p/app")

	a, err := r.Create(CreateTabOptions{})
	require.NoError(t, err)
	b, err := r.Create(CreateTabOptions{})
	require.NoError(t, err)

	require.NoError(t, r.Close(a.ID))
	require.Len(t, store.created, 2)
	assert.Contains(t, store.deleted, "/p/app/"+a.ID)
	assert.NotEmpty(t, store.updated, "surviving tabs re-persisted after reorder")

	r.Reset("/p/next")
	assert.Equal(t, []string{"/p/app"}, store.cleared)
	_ = b
}
