package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lorawan-server/lpwan-node/internal/config"
)

func newManager(ttl time.Duration) *JWTManager {
	return NewJWTManager(&config.JWTConfig{
		Secret:          "unit-test-secret",
		AccessTokenTTL:  ttl,
		RefreshTokenTTL: 24 * time.Hour,
	})
}

func TestTokenRoundtrip(t *testing.T) {
	m := newManager(time.Hour)
	clientID := uuid.New()

	access, refresh, err := m.GenerateTokenPair(clientID, "bench")
	if err != nil {
		t.Fatalf("GenerateTokenPair: %v", err)
	}
	if access == "" || refresh == "" {
		t.Fatal("empty token in pair")
	}

	claims, err := m.ValidateToken(access)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.ClientID != clientID || claims.Name != "bench" || !claims.ReadOnly {
		t.Errorf("claims = %+v", claims)
	}
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	m := newManager(time.Hour)
	access, _, err := m.GenerateTokenPair(uuid.New(), "bench")
	if err != nil {
		t.Fatal(err)
	}

	other := NewJWTManager(&config.JWTConfig{Secret: "different", AccessTokenTTL: time.Hour})
	if _, err := other.ValidateToken(access); err == nil {
		t.Error("token accepted under a different secret")
	}
}

func TestValidateRejectsExpired(t *testing.T) {
	m := newManager(-time.Minute)
	access, _, err := m.GenerateTokenPair(uuid.New(), "bench")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.ValidateToken(access); err == nil {
		t.Error("expired token accepted")
	}
}

func TestRefreshIssuesNewPair(t *testing.T) {
	m := newManager(time.Hour)
	clientID := uuid.New()
	_, refresh, err := m.GenerateTokenPair(clientID, "bench")
	if err != nil {
		t.Fatal(err)
	}

	access, _, err := m.RefreshToken(refresh)
	if err != nil {
		t.Fatalf("RefreshToken: %v", err)
	}
	claims, err := m.ValidateToken(access)
	if err != nil {
		t.Fatal(err)
	}
	if claims.ClientID != clientID {
		t.Errorf("client id = %s, want %s", claims.ClientID, clientID)
	}

	if _, _, err := m.RefreshToken("not-a-token"); err == nil {
		t.Error("garbage refresh token accepted")
	}
}
