package host

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// authorizeRequest checks the shared token. An empty configured token
// disables auth (local-only setups).
func (s *Server) authorizeRequest(r *http.Request) bool {
	token := strings.TrimSpace(s.cfg.Token)
	if token == "" {
		return true
	}

	if candidate := strings.TrimSpace(r.URL.Query().Get("token")); candidate != "" {
		return secureEqual(candidate, token)
	}

	if candidate := bearerToken(r.Header.Get("Authorization")); candidate != "" {
		return secureEqual(candidate, token)
	}

	return false
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}

func secureEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
