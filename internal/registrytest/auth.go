package registrytest

import (
	"fmt"
	"net/http"
	"slices"
	"strings"
)

type authMode int

const (
	authNone authMode = iota
	authBasic
	authToken
)

// RevokeTokens invalidates every issued access token, as if the registry
// rotated its signing keys. Refresh tokens stay valid.
func (r *Registry) RevokeTokens() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.accessTokens)
}

// TokensIssued counts access tokens issued by /oauth2/token.
func (r *Registry) TokensIssued() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tokensIssued
}

// IssueToken mints an access token directly, bypassing /oauth2/token.
func (r *Registry) IssueToken() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.issueAccessLocked()
}

func (r *Registry) issueAccessLocked() string {
	r.tokenSeq++
	r.tokensIssued++
	token := fmt.Sprintf("access-%d", r.tokenSeq)
	r.accessTokens[token] = r.now().Add(r.tokenLifetime)
	return token
}

func (r *Registry) issueRefreshLocked() string {
	r.tokenSeq++
	token := fmt.Sprintf("refresh-%d", r.tokenSeq)
	r.refreshTokens[token] = struct{}{}
	return token
}

// authenticate rejects requests without valid credentials for the
// configured mode.
func (r *Registry) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch r.authMode {
		case authBasic:
			user, pass, ok := req.BasicAuth()
			if !ok || user != r.username || pass != r.password {
				w.Header().Set("WWW-Authenticate", `Basic realm="registrytest"`)
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
				return
			}
		case authToken:
			if !r.validBearer(req.Header.Get("Authorization")) {
				w.Header().Set("WWW-Authenticate",
					fmt.Sprintf(`Bearer realm="%s/oauth2/token",service="%s"`, r.server.URL, r.Host()))
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
				return
			}
		}
		next.ServeHTTP(w, req)
	})
}

func (r *Registry) validBearer(header string) bool {
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	exp, ok := r.accessTokens[token]
	return ok && r.now().Before(exp)
}

// handleToken implements POST /oauth2/token for password and refresh_token grants.
func (r *Registry) handleToken(w http.ResponseWriter, req *http.Request) {
	if err := req.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if req.PostForm.Get("service") == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "missing service")
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch req.PostForm.Get("grant_type") {
	case "password":
		if r.username == "" || req.PostForm.Get("username") != r.username || req.PostForm.Get("password") != r.password {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid username or password")
			return
		}
	case "refresh_token":
		if _, ok := r.refreshTokens[req.PostForm.Get("refresh_token")]; !ok {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid refresh token")
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "UNSUPPORTED_GRANT_TYPE", "unsupported grant_type")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": r.issueAccessLocked(),
		"expires_in":   int(r.tokenLifetime.Seconds()),
	})
}

// handleExchange implements POST /oauth2/exchange for AAD access tokens.
func (r *Registry) handleExchange(w http.ResponseWriter, req *http.Request) {
	if err := req.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if req.PostForm.Get("grant_type") != "access_token" {
		writeError(w, http.StatusBadRequest, "UNSUPPORTED_GRANT_TYPE", "unsupported grant_type")
		return
	}
	if !slices.Contains(r.aadTokens, req.PostForm.Get("access_token")) {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid AAD access token")
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"refresh_token": r.issueRefreshLocked()})
}
