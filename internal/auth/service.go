package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/estatedesk/estatedesk/internal/platform/apiclient"
)

var (
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrMalformedResponse indicates a login response without a token or user.
	ErrMalformedResponse = errors.New("auth: malformed login response")
)

const loginPath = "/auth/login"

// Transport posts JSON to the platform API.
type Transport interface {
	Post(ctx context.Context, path string, body any) (json.RawMessage, error)
}

// Service wraps authentication against the platform API.
type Service struct {
	transport Transport
}

// NewService constructs a new Service.
func NewService(transport Transport) *Service {
	return &Service{transport: transport}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Authenticate exchanges email/password credentials for tokens and the
// user profile.
func (s *Service) Authenticate(ctx context.Context, email, password string) (LoginResult, error) {
	raw, err := s.transport.Post(ctx, loginPath, loginRequest{Email: strings.TrimSpace(email), Password: password})
	if err != nil {
		if apiclient.IsUnauthorized(err) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, fmt.Errorf("auth: login: %w", err)
	}

	var envelope loginEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return LoginResult{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	payload := envelope.loginPayload
	if envelope.Data != nil {
		payload = *envelope.Data
	}
	if payload.accessToken() == "" || len(payload.User) == 0 {
		return LoginResult{}, ErrMalformedResponse
	}

	result := LoginResult{
		AccessToken:  payload.accessToken(),
		RefreshToken: payload.refreshToken(),
	}
	if sub := bytes.TrimSpace(payload.Subscription); len(sub) > 0 && !bytes.Equal(sub, []byte("null")) {
		result.Subscription = sub
	}
	if err := json.Unmarshal(payload.User, &result.User); err != nil {
		return LoginResult{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return result, nil
}
