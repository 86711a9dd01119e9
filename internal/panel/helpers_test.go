package panel

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shellpanel/shellpanel/internal/protocol"
)

// recordingSender captures outbound commands for assertions.
type recordingSender struct {
	mu   sync.Mutex
	sent []protocol.Command
	err  error
}

func (s *recordingSender) Send(cmd protocol.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, cmd)
	return nil
}

func (s *recordingSender) commands() []protocol.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.Command, len(s.sent))
	copy(out, s.sent)
	return out
}

func (s *recordingSender) resumesFor(path string) int {
	n := 0
	for _, cmd := range s.commands() {
		if cmd.Type == protocol.CmdResumeSession && cmd.Path == path {
			n++
		}
	}
	return n
}

type fakeSettingsClient struct {
	mu       sync.Mutex
	settings Settings
	err      error
	calls    int
}

func (c *fakeSettingsClient) FetchSettings(ctx context.Context) (Settings, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return Settings{}, c.err
	}
	return c.settings, nil
}

func (c *fakeSettingsClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type fakeHistoryClient struct {
	mu      sync.Mutex
	records []PersistedSession
	err     error
	calls   int

	// block, when non-nil, is closed by the test to release the fetch;
	// used to race a user selection against an in-flight bootstrap.
	block chan struct{}
}

func (c *fakeHistoryClient) RecentSessions(ctx context.Context) ([]PersistedSession, error) {
	c.mu.Lock()
	c.calls++
	block := c.block
	records := c.records
	err := c.err
	c.mu.Unlock()

	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (c *fakeHistoryClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

var errFetch = errors.New("fetch failed")

func historyRecords(paths ...string) []PersistedSession {
	out := make([]PersistedSession, 0, len(paths))
	for i, p := range paths {
		out = append(out, PersistedSession{
			ProjectPath:  p,
			ProjectName:  p,
			LastActiveAt: time.Unix(int64(1000-i), 0),
		})
	}
	return out
}
