// Package identity holds the signed-in console user and keeps the
// session consistent with the console access policy.
package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/estatedesk/estatedesk/internal/rbac"
)

// Persisted session keys. They are always cleared together.
const (
	KeyAccessToken  = "accessToken"
	KeyRefreshToken = "refreshToken"
	KeyUser         = "user"
	KeySubscription = "subscription"
)

// SessionKeys lists every key wiped on logout.
func SessionKeys() []string {
	return []string{KeyAccessToken, KeyRefreshToken, KeyUser, KeySubscription}
}

// ErrNotAuthorized indicates a user who is neither super admin nor
// enterprise admin.
var ErrNotAuthorized = errors.New("identity: user may not use the console")

// Storage is durable string storage scoped to one browser session.
type Storage interface {
	Get(key string) string
	Set(key, value string)
	Delete(key string)
}

// Credentials are written by the authentication flow before Login.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	Subscription json.RawMessage
}

// Identity owns the current user of one session.
type Identity struct {
	storage Storage
	logger  *slog.Logger
	user    *rbac.AuthenticatedUser
}

// Restore rebuilds the identity from storage. Without an access token any
// stored profile is discarded; a corrupt profile is deleted. A restored
// user failing the console policy wipes the session.
func Restore(storage Storage, logger *slog.Logger) *Identity {
	id := &Identity{storage: storage, logger: logger}
	if storage.Get(KeyAccessToken) == "" {
		storage.Delete(KeyUser)
		return id
	}
	raw := storage.Get(KeyUser)
	if raw == "" {
		return id
	}
	var user rbac.AuthenticatedUser
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		id.warn("identity discard corrupt profile", slog.Any("error", err))
		storage.Delete(KeyUser)
		return id
	}
	_ = id.setUser(&user)
	return id
}

// setUser replaces the held identity and enforces the console policy.
func (i *Identity) setUser(user *rbac.AuthenticatedUser) error {
	i.user = user
	if user == nil {
		return nil
	}
	if !rbac.SatisfiesConsolePolicy(user) {
		i.warn("identity policy violation, clearing session", slog.Int64("user_id", user.ID))
		i.Logout()
		return ErrNotAuthorized
	}
	return nil
}

// StoreCredentials persists the tokens issued by the authentication flow.
func (i *Identity) StoreCredentials(creds Credentials) {
	if creds.AccessToken != "" {
		i.storage.Set(KeyAccessToken, creds.AccessToken)
	}
	if creds.RefreshToken != "" {
		i.storage.Set(KeyRefreshToken, creds.RefreshToken)
	}
	if len(creds.Subscription) > 0 {
		i.storage.Set(KeySubscription, string(creds.Subscription))
	}
}

// Login sets the identity and persists the profile. Tokens are not
// written here. ErrNotAuthorized is returned, with the session wiped,
// when the user fails the console policy.
func (i *Identity) Login(user rbac.AuthenticatedUser) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("identity: encode user: %w", err)
	}
	i.storage.Set(KeyUser, string(data))
	return i.setUser(&user)
}

// Logout clears the identity and every persisted session key.
func (i *Identity) Logout() {
	i.user = nil
	for _, key := range SessionKeys() {
		i.storage.Delete(key)
	}
}

// User returns the held identity, nil when signed out.
func (i *Identity) User() *rbac.AuthenticatedUser {
	return i.user
}

// AccessToken returns the persisted access token.
func (i *Identity) AccessToken() string {
	return i.storage.Get(KeyAccessToken)
}

// IsAuthenticated requires both a held identity and a live token.
func (i *Identity) IsAuthenticated() bool {
	return i.user != nil && i.AccessToken() != ""
}

func (i *Identity) warn(msg string, attrs ...any) {
	if i.logger != nil {
		i.logger.Warn(msg, attrs...)
	}
}
