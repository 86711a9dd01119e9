package host

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/shellpanel/shellpanel/internal/panel"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiErrorResponse struct {
	Error apiError `json:"error"`
}

func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiErrorResponse{Error: apiError{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// handleSettings serves the live panel settings consumed at bootstrap.
func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if !s.authorizeRequest(r) {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}

	autoReconnect := true
	if s.cfg.Settings != nil {
		autoReconnect = s.cfg.Settings.AutoReconnect()
	}
	writeJSON(w, panel.Settings{AutoReconnect: autoReconnect})
}

type recentSessionsResponse struct {
	Sessions []panel.PersistedSession `json:"sessions"`
}

// handleRecentSessions serves selection history, most recent first.
func (s *Server) handleRecentSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if !s.authorizeRequest(r) {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be between 1 and 100")
			return
		}
		limit = n
	}

	resp := recentSessionsResponse{Sessions: []panel.PersistedSession{}}
	if s.store != nil {
		records, err := s.store.RecentSessions(limit)
		if err != nil {
			writeAPIError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to load session history")
			return
		}
		resp.Sessions = records
	}
	writeJSON(w, resp)
}

type projectInfo struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Running bool   `json:"running"`
}

type projectsResponse struct {
	Projects []projectInfo `json:"projects"`
}

// handleProjects lists directories under the configured projects dir,
// flagging those with a live session.
func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if !s.authorizeRequest(r) {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}

	resp := projectsResponse{Projects: []projectInfo{}}
	if s.cfg.ProjectsDir != "" {
		entries, err := os.ReadDir(s.cfg.ProjectsDir)
		if err != nil {
			writeAPIError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to read projects directory")
			return
		}
		running := make(map[string]bool)
		for _, path := range s.supervisor.RunningPaths() {
			running[path] = true
		}
		for _, entry := range entries {
			if !entry.IsDir() || entry.Name()[0] == '.' {
				continue
			}
			path := filepath.Join(s.cfg.ProjectsDir, entry.Name())
			resp.Projects = append(resp.Projects, projectInfo{
				Name:    entry.Name(),
				Path:    path,
				Running: running[path],
			})
		}
		sort.Slice(resp.Projects, func(i, j int) bool {
			return resp.Projects[i].Name < resp.Projects[j].Name
		})
	}
	writeJSON(w, resp)
}
