// Package drive is the OAuth drive provider client.
package drive

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/vietddude/cloudlink/internal/core/domain"
)

const (
	defaultAuthURL  = "https://accounts.google.com/o/oauth2/auth"
	defaultTokenURL = "https://oauth2.googleapis.com/token"
	defaultAPIURL   = "https://www.googleapis.com/drive/v3"
)

// Config holds the OAuth client and API settings.
type Config struct {
	ClientID          string        `yaml:"client_id"`
	ClientSecret      string        `yaml:"client_secret"`
	AuthURL           string        `yaml:"auth_url"`
	TokenURL          string        `yaml:"token_url"`
	APIURL            string        `yaml:"api_url"`
	Scopes            []string      `yaml:"scopes"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	Timeout           time.Duration `yaml:"timeout"`
}

// Client talks to the drive API and its OAuth token endpoint.
type Client struct {
	oauth   *oauth2.Config
	http    *http.Client
	apiURL  string
	limiter *rate.Limiter
}

// New creates a drive client. httpClient may be nil.
func New(cfg Config, httpClient *http.Client) *Client {
	if cfg.AuthURL == "" {
		cfg.AuthURL = defaultAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultTokenURL
	}
	if cfg.APIURL == "" {
		cfg.APIURL = defaultAPIURL
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RequestsPerSecond)
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		http:    httpClient,
		apiURL:  strings.TrimRight(cfg.APIURL, "/"),
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
	}
}

func (c *Client) Name() domain.Provider {
	return domain.ProviderGoogleDrive
}

// RefreshToken exchanges the refresh token at the OAuth token endpoint.
// Endpoint errors come back as *oauth2.RetrieveError.
func (c *Client) RefreshToken(ctx context.Context, cred *domain.Credential) (*domain.Token, error) {
	if !cred.HasRefreshToken() {
		return nil, domain.ErrMissingRefreshToken
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	tok, err := c.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken}).Token()
	if err != nil {
		return nil, err
	}

	return &domain.Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresAt:    tok.Expiry,
	}, nil
}

// TestConnectivity fetches the account's "about" resource.
func (c *Client) TestConnectivity(ctx context.Context, cred *domain.Credential) error {
	if cred.AccessToken == "" {
		return &domain.ProviderError{
			Provider:   domain.ProviderGoogleDrive,
			StatusCode: http.StatusUnauthorized,
			Reason:     "authError",
			Message:    "no access token",
		}
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"/about?fields=user", nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return parseError(resp.StatusCode, body)
}

// parseError reads a drive API error body:
//
//	{"error": {"code": 403, "message": "...", "errors": [{"reason": "rateLimitExceeded"}]}}
func parseError(status int, body []byte) *domain.ProviderError {
	pe := &domain.ProviderError{
		Provider:   domain.ProviderGoogleDrive,
		StatusCode: status,
		Message:    http.StatusText(status),
	}
	if !gjson.ValidBytes(body) {
		return pe
	}
	res := gjson.ParseBytes(body)
	if msg := res.Get("error.message"); msg.Exists() {
		pe.Message = msg.String()
	}
	if reason := res.Get("error.errors.0.reason"); reason.Exists() {
		pe.Reason = reason.String()
	} else if st := res.Get("error.status"); st.Exists() {
		pe.Reason = st.String()
	}
	// Token endpoint style: {"error": "invalid_grant", "error_description": "..."}
	if code := res.Get("error"); code.Type == gjson.String {
		pe.Code = code.String()
		if desc := res.Get("error_description"); desc.Exists() {
			pe.Message = desc.String()
		}
	}
	return pe
}
