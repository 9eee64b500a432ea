package rpc

import (
	"errors"
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	secret := []byte("test-secret")
	token, err := GenerateToken("client-1", secret, time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	clientID, err := ValidateToken(token, secret)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if clientID != "client-1" {
		t.Errorf("clientID = %q, want client-1", clientID)
	}
}

func TestTokenWrongSecret(t *testing.T) {
	token, err := GenerateToken("client-1", []byte("right"), time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ValidateToken(token, []byte("wrong")); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestTokenExpired(t *testing.T) {
	secret := []byte("test-secret")
	token, err := GenerateToken("client-1", secret, -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ValidateToken(token, secret); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("err = %v, want ErrExpiredToken", err)
	}
}

func TestTokenGarbage(t *testing.T) {
	if _, err := ValidateToken("not.a.jwt", []byte("secret")); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}
