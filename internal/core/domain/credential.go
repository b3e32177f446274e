package domain

import "time"

// Credential is what a user stored when connecting a provider.
// OAuth providers fill the token fields; API-key providers fill AccessKeyID/SecretKey.
type Credential struct {
	UserID       string            `json:"user_id"`
	Provider     Provider          `json:"provider"`
	AccessToken  string            `json:"-"`
	RefreshToken string            `json:"-"`
	TokenType    string            `json:"token_type,omitempty"`
	ExpiresAt    time.Time         `json:"expires_at"`
	AccessKeyID  string            `json:"access_key_id,omitempty"`
	SecretKey    string            `json:"-"`
	Settings     map[string]string `json:"settings,omitempty"` // bucket, region, folder...
	UpdatedAt    time.Time         `json:"updated_at"`
}

// HasRefreshToken reports whether the credential can be refreshed without the user.
func (c *Credential) HasRefreshToken() bool {
	return c.RefreshToken != ""
}

// Expires reports whether the credential carries an expiring access token.
func (c *Credential) Expires() bool {
	return !c.ExpiresAt.IsZero()
}

// ExpiredAt reports whether the access token is expired at now.
func (c *Credential) ExpiredAt(now time.Time) bool {
	return c.Expires() && !now.Before(c.ExpiresAt)
}

// Setting returns a provider setting or def when missing.
func (c *Credential) Setting(key, def string) string {
	if v, ok := c.Settings[key]; ok && v != "" {
		return v
	}
	return def
}

// Token is a freshly issued access token.
type Token struct {
	AccessToken  string
	RefreshToken string // empty when the provider did not rotate it
	TokenType    string
	ExpiresAt    time.Time
}
