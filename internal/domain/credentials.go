package domain

import (
	"fmt"
	"time"
)

// CredentialKind discriminates the credential variants. Exactly one variant
// is populated per Credentials value.
type CredentialKind string

const (
	// CredentialOAuth2 is a bearer access token with optional refresh
	// token and expiry.
	CredentialOAuth2 CredentialKind = "oauth2"
	// CredentialOAuth1Extended is an OAuth 1.0a token pair plus an
	// optional Diffie-Hellman derived live session token.
	CredentialOAuth1Extended CredentialKind = "oauth1_extended"
	// CredentialAPIKey is a static API key/secret pair signed per request.
	CredentialAPIKey CredentialKind = "api_key"
)

// OAuth2Credentials holds an OAuth2 bearer token. A zero ExpiresAt means the
// broker did not report an expiry.
type OAuth2Credentials struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt,omitempty"`
}

// OAuth1ExtendedCredentials holds a long-lived OAuth 1.0a access token pair
// and the short-lived live session token derived from it.
type OAuth1ExtendedCredentials struct {
	ConsumerKey            string    `json:"consumerKey"`
	AccessToken            string    `json:"accessToken"`
	AccessTokenSecret      string    `json:"accessTokenSecret"`
	LiveSessionToken       string    `json:"liveSessionToken,omitempty"`
	LiveSessionTokenExpiry time.Time `json:"liveSessionTokenExpiry,omitempty"`
}

// APIKeyCredentials holds a static API key pair. Passphrase is only used by
// brokers that require one.
type APIKeyCredentials struct {
	APIKey     string `json:"apiKey"`
	APISecret  string `json:"apiSecret"`
	Passphrase string `json:"passphrase,omitempty"`
}

// Credentials is the tagged union handed to an adapter. Kind names the
// active variant; adapters switch on it and reject any mismatch with
// AUTHENTICATION_FAILED rather than guessing.
type Credentials struct {
	Kind   CredentialKind             `json:"kind"`
	OAuth2 *OAuth2Credentials         `json:"oauth2,omitempty"`
	OAuth1 *OAuth1ExtendedCredentials `json:"oauth1Extended,omitempty"`
	APIKey *APIKeyCredentials         `json:"apiKey,omitempty"`
}

// NewOAuth2Credentials builds an OAuth2 credential value.
func NewOAuth2Credentials(accessToken, refreshToken string, expiresAt time.Time) Credentials {
	return Credentials{
		Kind: CredentialOAuth2,
		OAuth2: &OAuth2Credentials{
			AccessToken:  accessToken,
			RefreshToken: refreshToken,
			ExpiresAt:    expiresAt,
		},
	}
}

// NewOAuth1ExtendedCredentials builds an OAuth1-Extended credential value.
func NewOAuth1ExtendedCredentials(consumerKey, accessToken, accessTokenSecret string) Credentials {
	return Credentials{
		Kind: CredentialOAuth1Extended,
		OAuth1: &OAuth1ExtendedCredentials{
			ConsumerKey:       consumerKey,
			AccessToken:       accessToken,
			AccessTokenSecret: accessTokenSecret,
		},
	}
}

// NewAPIKeyCredentials builds an API-key credential value.
func NewAPIKeyCredentials(apiKey, apiSecret, passphrase string) Credentials {
	return Credentials{
		Kind: CredentialAPIKey,
		APIKey: &APIKeyCredentials{
			APIKey:     apiKey,
			APISecret:  apiSecret,
			Passphrase: passphrase,
		},
	}
}

// IsZero reports whether no credentials have been set.
func (c Credentials) IsZero() bool {
	return c.Kind == "" && c.OAuth2 == nil && c.OAuth1 == nil && c.APIKey == nil
}

// Validate checks that Kind names exactly the variant that is populated.
func (c Credentials) Validate() error {
	switch c.Kind {
	case CredentialOAuth2:
		if c.OAuth2 == nil || c.OAuth2.AccessToken == "" {
			return fmt.Errorf("oauth2 credentials missing access token")
		}
		if c.OAuth1 != nil || c.APIKey != nil {
			return fmt.Errorf("oauth2 credentials carry extra variants")
		}
	case CredentialOAuth1Extended:
		if c.OAuth1 == nil || c.OAuth1.ConsumerKey == "" || c.OAuth1.AccessToken == "" || c.OAuth1.AccessTokenSecret == "" {
			return fmt.Errorf("oauth1-extended credentials incomplete")
		}
		if c.OAuth2 != nil || c.APIKey != nil {
			return fmt.Errorf("oauth1-extended credentials carry extra variants")
		}
	case CredentialAPIKey:
		if c.APIKey == nil || c.APIKey.APIKey == "" || c.APIKey.APISecret == "" {
			return fmt.Errorf("api-key credentials missing key or secret")
		}
		if c.OAuth2 != nil || c.OAuth1 != nil {
			return fmt.Errorf("api-key credentials carry extra variants")
		}
	case "":
		return fmt.Errorf("credential kind not set")
	default:
		return fmt.Errorf("unknown credential kind %q", c.Kind)
	}
	return nil
}
