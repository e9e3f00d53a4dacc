package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// defaultBaseURL is the Firebase Auth (Identity Toolkit) REST API.
	defaultBaseURL = "https://identitytoolkit.googleapis.com/v1"

	// defaultTimeout is the HTTP client timeout for auth calls.
	defaultTimeout = 15 * time.Second
)

// FirebaseProvider implements Provider against the Firebase Auth REST
// API, authenticated with the project's Web API key.
type FirebaseProvider struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
}

var _ Provider = (*FirebaseProvider)(nil)

// NewFirebaseProvider creates a provider for the given Web API key.
func NewFirebaseProvider(apiKey string) *FirebaseProvider {
	return &FirebaseProvider{
		httpClient: &http.Client{Timeout: defaultTimeout},
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
	}
}

// --- API request/response types ---

type firebaseAuthRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

type firebaseAuthResponse struct {
	LocalID string `json:"localId"`
	Email   string `json:"email"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// SignUp creates a new account and returns its identity.
func (p *FirebaseProvider) SignUp(ctx context.Context, email, password string) (*User, error) {
	return p.call(ctx, "accounts:signUp", email, password)
}

// SignIn verifies credentials and returns the account identity.
func (p *FirebaseProvider) SignIn(ctx context.Context, email, password string) (*User, error) {
	return p.call(ctx, "accounts:signInWithPassword", email, password)
}

func (p *FirebaseProvider) call(ctx context.Context, endpoint, email, password string) (*User, error) {
	body, err := json.Marshal(firebaseAuthRequest{
		Email:             email,
		Password:          password,
		ReturnSecureToken: true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal auth request: %w", err)
	}

	url := fmt.Sprintf("%s/%s?key=%s", p.baseURL, endpoint, p.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		log.Error().Err(err).Str("endpoint", endpoint).Msg("Auth provider request failed")
		return nil, fmt.Errorf("auth provider request: %w", err)
	}
	defer resp.Body.Close()

	var decoded firebaseAuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode auth response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("auth request failed with status %d", resp.StatusCode)
		if decoded.Error != nil && decoded.Error.Message != "" {
			msg = decoded.Error.Message
		}
		log.Warn().Str("endpoint", endpoint).Str("message", msg).Msg("Auth provider rejected request")
		return nil, &ProviderError{Message: msg}
	}

	if decoded.LocalID == "" {
		return nil, &ProviderError{Message: "auth provider returned no user id"}
	}

	return &User{UID: decoded.LocalID, Email: decoded.Email}, nil
}
