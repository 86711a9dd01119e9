package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shellpanel/shellpanel/internal/panel"
)

const defaultAPITimeout = 10 * time.Second

// APIClient talks to the host's REST bootstrap surface. It implements
// panel.SettingsClient and panel.HistoryClient.
type APIClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewAPIClient creates a client for the host at baseURL, e.g.
// "http://127.0.0.1:8420". token may be empty.
func NewAPIClient(baseURL, token string) *APIClient {
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: defaultAPITimeout},
	}
}

// RequestError is a non-2xx response decoded from the host's error
// envelope.
type RequestError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *RequestError) Error() string {
	if e.Code != "" && e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	if e.Message != "" {
		return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Code)
}

// FetchSettings retrieves the live panel settings.
func (c *APIClient) FetchSettings(ctx context.Context) (panel.Settings, error) {
	var settings panel.Settings
	if err := c.getJSON(ctx, "/api/settings", nil, &settings); err != nil {
		return panel.Settings{}, err
	}
	return settings, nil
}

// RecentSessions retrieves selection history, most recent first.
func (c *APIClient) RecentSessions(ctx context.Context) ([]panel.PersistedSession, error) {
	var resp struct {
		Sessions []panel.PersistedSession `json:"sessions"`
	}
	if err := c.getJSON(ctx, "/api/sessions/recent", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

// Projects lists the host's known project directories.
func (c *APIClient) Projects(ctx context.Context) ([]Project, error) {
	var resp struct {
		Projects []Project `json:"projects"`
	}
	if err := c.getJSON(ctx, "/api/projects", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Projects, nil
}

// Project is one entry from the host's project listing.
type Project struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Running bool   `json:"running"`
}

func (c *APIClient) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal(payload, &envelope); err == nil && envelope.Error.Code != "" {
			return &RequestError{
				StatusCode: resp.StatusCode,
				Code:       envelope.Error.Code,
				Message:    envelope.Error.Message,
			}
		}
		return &RequestError{
			StatusCode: resp.StatusCode,
			Code:       fmt.Sprintf("HTTP_%d", resp.StatusCode),
			Message:    strings.TrimSpace(string(payload)),
		}
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

var (
	_ panel.SettingsClient = (*APIClient)(nil)
	_ panel.HistoryClient  = (*APIClient)(nil)
)
