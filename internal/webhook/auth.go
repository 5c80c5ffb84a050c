package webhook

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

// errAuthFailed is returned for missing or wrong credentials.
var errAuthFailed = errors.New("authentication failed")

// Authenticator verifies HTTP basic auth credentials on webhook posts.
type Authenticator struct {
	username string
	password string
}

// NewAuthenticator creates an Authenticator with the given credentials.
// If either is empty, authentication is disabled.
func NewAuthenticator(username, password string) *Authenticator {
	return &Authenticator{
		username: username,
		password: password,
	}
}

// Enabled returns true if authentication credentials are configured.
func (a *Authenticator) Enabled() bool {
	return a.username != "" && a.password != ""
}

// Verify checks user and pass against the configured credentials in
// constant time.
func (a *Authenticator) Verify(user, pass string) error {
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(a.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(a.password)) == 1
	if !userOK || !passOK {
		return errAuthFailed
	}
	return nil
}

// Middleware rejects requests without valid basic auth credentials with
// 401. It passes every request through when authentication is disabled.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	if !a.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || a.Verify(user, pass) != nil {
			slog.Warn("webhook authentication failed",
				"request_id", middleware.GetReqID(r.Context()),
				"remote_addr", r.RemoteAddr,
				"credentials_present", ok,
			)
			w.Header().Set("WWW-Authenticate", `Basic realm="inbound", charset="UTF-8"`)
			writeError(w, http.StatusUnauthorized, errAuthFailed.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}
