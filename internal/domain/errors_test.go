package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodeFromHTTPStatus(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorCode
	}{
		{401, ErrAuthenticationFailed},
		{403, ErrInsufficientFunds},
		{404, ErrInvalidSymbol},
		{422, ErrInvalidOrder},
		{429, ErrRateLimited},
		{500, ErrUnknown},
		{502, ErrUnknown},
		{400, ErrUnknown},
	}

	for _, tt := range tests {
		if got := CodeFromHTTPStatus(tt.status); got != tt.want {
			t.Errorf("CodeFromHTTPStatus(%d) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestBrokerErrorChain(t *testing.T) {
	cause := errors.New("connection refused")
	be := WrapBrokerError(BrokerBinance, ErrConnectionError, "dialing REST endpoint", cause)

	wrapped := fmt.Errorf("placing order: %w", be)

	got, ok := AsBrokerError(wrapped)
	if !ok {
		t.Fatal("AsBrokerError should find the BrokerError in the chain")
	}
	if got.Code != ErrConnectionError {
		t.Errorf("Code = %q, want %q", got.Code, ErrConnectionError)
	}
	if got.Broker != BrokerBinance {
		t.Errorf("Broker = %q, want %q", got.Broker, BrokerBinance)
	}
	if !errors.Is(wrapped, cause) {
		t.Error("errors.Is should reach the original cause through Unwrap")
	}
}

func TestErrorFromHTTPStatus(t *testing.T) {
	be := ErrorFromHTTPStatus(BrokerAlpaca, 429, `{"message":"too many requests"}`)
	if be.Code != ErrRateLimited {
		t.Errorf("Code = %q, want %q", be.Code, ErrRateLimited)
	}
	if be.Broker != BrokerAlpaca {
		t.Errorf("Broker = %q, want %q", be.Broker, BrokerAlpaca)
	}

	if _, ok := AsBrokerError(errors.New("plain")); ok {
		t.Error("plain errors should not convert to BrokerError")
	}
}

func TestCredentialsValidate(t *testing.T) {
	if err := NewAPIKeyCredentials("k", "s", "").Validate(); err != nil {
		t.Errorf("api-key credentials should validate: %v", err)
	}
	if err := NewOAuth1ExtendedCredentials("ck", "at", "ats").Validate(); err != nil {
		t.Errorf("oauth1 credentials should validate: %v", err)
	}

	var zero Credentials
	if !zero.IsZero() {
		t.Error("zero credentials should report IsZero")
	}
	if err := zero.Validate(); err == nil {
		t.Error("zero credentials should fail validation")
	}

	mixed := NewAPIKeyCredentials("k", "s", "")
	mixed.OAuth2 = &OAuth2Credentials{AccessToken: "tok"}
	if err := mixed.Validate(); err == nil {
		t.Error("credentials with two populated variants should fail validation")
	}

	missing := Credentials{Kind: CredentialOAuth2}
	if err := missing.Validate(); err == nil {
		t.Error("oauth2 kind without variant should fail validation")
	}
}
