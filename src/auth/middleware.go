package auth

import (
	"net/http"
	"strings"

	logger "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

type credential struct {
	role string
	hash []byte
}

// Authenticator checks bearer tokens against bcrypt hashes. An admin token
// is accepted wherever a scheduler token is.
type Authenticator struct {
	credentials []credential
}

func NewAuthenticator(cfg Config) *Authenticator {
	a := &Authenticator{}
	if cfg.AdminTokenHash != "" {
		a.credentials = append(a.credentials, credential{role: RoleAdmin, hash: []byte(cfg.AdminTokenHash)})
	}
	if cfg.SchedulerTokenHash != "" {
		a.credentials = append(a.credentials, credential{role: RoleScheduler, hash: []byte(cfg.SchedulerTokenHash)})
	}
	if len(a.credentials) == 0 {
		logger.Warn("No API token hashes configured, every authenticated route will refuse requests")
	}
	return a
}

// HashToken returns the bcrypt hash to configure for token.
func HashToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (a *Authenticator) authenticate(token string) (*Principal, bool) {
	for _, c := range a.credentials {
		if bcrypt.CompareHashAndPassword(c.hash, []byte(token)) == nil {
			return &Principal{Role: c.role}, true
		}
	}
	return nil, false
}

// Require returns middleware admitting callers holding one of roles.
func (a *Authenticator) Require(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, found := strings.CutPrefix(header, "Bearer ")
			if !found || token == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			p, ok := a.authenticate(token)
			if !ok {
				logger.WithField("path", r.URL.Path).Warn("rejected bearer token")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			if !allowed(p.Role, roles) {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

func allowed(role string, roles []string) bool {
	if role == RoleAdmin {
		return true
	}
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
