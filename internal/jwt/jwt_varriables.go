package jwt

import (
	"sync"
	"time"

	"support-dispatch-backend/internal/env"
)

const AccessTokenTTL = 15 * time.Minute

const (
	RoleAdmin Role = iota
)

var (
	secretsMu   sync.RWMutex
	RoleSecrets = map[Role]string{}
)

func init() {
	SetSecret(RoleAdmin, env.Get(env.AdminSecretKey))
}

// SetSecret replaces the signing secret for role.
func SetSecret(role Role, secret string) {
	secretsMu.Lock()
	defer secretsMu.Unlock()
	RoleSecrets[role] = secret
}

func secretFor(role Role) (string, bool) {
	secretsMu.RLock()
	defer secretsMu.RUnlock()
	secret, ok := RoleSecrets[role]
	return secret, ok && secret != ""
}
