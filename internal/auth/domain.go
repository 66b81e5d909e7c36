package auth

import (
	"encoding/json"

	"github.com/estatedesk/estatedesk/internal/rbac"
)

// LoginResult is what the platform returns for valid credentials.
type LoginResult struct {
	AccessToken  string
	RefreshToken string
	User         rbac.AuthenticatedUser
	Subscription json.RawMessage
}

// loginPayload accepts both snake_case and camelCase token fields.
type loginPayload struct {
	AccessToken       string          `json:"access_token"`
	AccessTokenCamel  string          `json:"accessToken"`
	RefreshToken      string          `json:"refresh_token"`
	RefreshTokenCamel string          `json:"refreshToken"`
	User              json.RawMessage `json:"user"`
	Subscription      json.RawMessage `json:"subscription"`
}

type loginEnvelope struct {
	Data *loginPayload `json:"data"`
	loginPayload
}

func (p loginPayload) accessToken() string {
	if p.AccessToken != "" {
		return p.AccessToken
	}
	return p.AccessTokenCamel
}

func (p loginPayload) refreshToken() string {
	if p.RefreshToken != "" {
		return p.RefreshToken
	}
	return p.RefreshTokenCamel
}
