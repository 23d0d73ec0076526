package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/Strob0t/devsync/internal/secrets"
)

const headerAdminToken = "X-Admin-Token"

// AdminToken returns middleware that admits only requests carrying the admin
// credential, either as "Authorization: Bearer <token>" or X-Admin-Token.
// WebSocket upgrades may pass it as ?token= because browsers cannot set
// headers on them.
//
// hash is a bcrypt hash and takes precedence over the plain token. With
// neither configured every request is rejected.
func AdminToken(token, hash string) func(http.Handler) http.Handler {
	cred := secrets.Credential{Token: token, Hash: hash}
	if cred.Empty() {
		slog.Warn("no admin credential configured, admin routes are closed")
	}
	return AdminCredential(func() secrets.Credential { return cred })
}

// AdminCredential is AdminToken with the credential looked up per request,
// so a rotated credential applies without a restart.
func AdminCredential(current func() secrets.Credential) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented, ok := credential(r)
			if !ok {
				http.Error(w, `{"error":"authorization required"}`, http.StatusUnauthorized)
				return
			}
			if !verify(current(), presented) {
				slog.Warn("admin credential rejected", "path", r.URL.Path, "remote", realIP(r))
				http.Error(w, `{"error":"invalid credential"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func verify(c secrets.Credential, presented string) bool {
	switch {
	case c.Hash != "":
		return bcrypt.CompareHashAndPassword([]byte(c.Hash), []byte(presented)) == nil
	case c.Token != "":
		return subtle.ConstantTimeCompare([]byte(c.Token), []byte(presented)) == 1
	default:
		return false
	}
}

// credential extracts the presented admin credential.
func credential(r *http.Request) (string, bool) {
	if v := r.Header.Get(headerAdminToken); v != "" {
		return v, true
	}
	if h := r.Header.Get("Authorization"); h != "" {
		v, ok := strings.CutPrefix(h, "Bearer ")
		return v, ok && v != ""
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		if v := r.URL.Query().Get("token"); v != "" {
			return v, true
		}
	}
	return "", false
}
