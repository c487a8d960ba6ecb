package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/angelmondragon/marketplace-backend/pkg/config"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func testConfig() config.JWTConfig {
	return config.JWTConfig{
		Secret:            "secret",
		Issuer:            "marketplace",
		ExpirationMinutes: 30,
	}
}

func TestMintAndParseAccessToken(t *testing.T) {
	cfg := testConfig()
	now := time.Now().UTC()
	actorID := uuid.New()
	businessID := uuid.New()

	token, err := MintAccessToken(cfg, now, AccessTokenPayload{
		ActorID:    actorID,
		BusinessID: businessID,
		Role:       enums.ActorRoleMerchant,
	})
	if err != nil {
		t.Fatalf("mint access token: %v", err)
	}

	claims, err := ParseAccessToken(cfg, token)
	if err != nil {
		t.Fatalf("parse access token: %v", err)
	}
	if claims.BusinessID != businessID {
		t.Fatalf("expected business_id %s, got %s", businessID, claims.BusinessID)
	}
	if claims.Role != enums.ActorRoleMerchant {
		t.Fatalf("unexpected role %s", claims.Role)
	}
	if got := claims.ActorID(); got == nil || *got != actorID {
		t.Fatalf("actor id not preserved: %v", got)
	}
	if claims.Issuer != cfg.Issuer {
		t.Fatalf("issuer mismatch: %s", claims.Issuer)
	}
	if claims.ID == "" {
		t.Fatal("expected generated jti")
	}
	if claims.ExpiresAt == nil || !claims.ExpiresAt.Time.After(now) {
		t.Fatal("expected expiry in the future")
	}
}

func TestMintAccessTokenRejectsInvalidPayload(t *testing.T) {
	cfg := testConfig()
	now := time.Now().UTC()
	cases := map[string]AccessTokenPayload{
		"missing business": {Role: enums.ActorRoleMerchant},
		"unknown role":     {BusinessID: uuid.New(), Role: "owner"},
		"system role":      {BusinessID: uuid.New(), Role: enums.ActorRoleSystem},
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := MintAccessToken(cfg, now, payload); err == nil {
				t.Fatal("expected mint error")
			}
		})
	}

	bad := cfg
	bad.Secret = ""
	if _, err := MintAccessToken(bad, now, AccessTokenPayload{BusinessID: uuid.New(), Role: enums.ActorRoleAdmin}); err == nil {
		t.Fatal("expected missing secret error")
	}
}

func TestParseAccessTokenRejectsExpired(t *testing.T) {
	cfg := testConfig()
	token, err := MintAccessToken(cfg, time.Now().Add(-2*time.Hour), AccessTokenPayload{
		BusinessID: uuid.New(),
		Role:       enums.ActorRoleCourier,
	})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := ParseAccessToken(cfg, token); err == nil {
		t.Fatal("expected expired token to fail")
	}
}

func TestParseAccessTokenRejectsWrongIssuerAndSecret(t *testing.T) {
	cfg := testConfig()
	token, err := MintAccessToken(cfg, time.Now(), AccessTokenPayload{
		BusinessID: uuid.New(),
		Role:       enums.ActorRoleAdmin,
	})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	other := cfg
	other.Issuer = "someone-else"
	if _, err := ParseAccessToken(other, token); err == nil {
		t.Fatal("expected issuer mismatch")
	}

	other = cfg
	other.Secret = "different"
	if _, err := ParseAccessToken(other, token); err == nil || !strings.Contains(err.Error(), "signature") {
		t.Fatalf("expected signature error, got %v", err)
	}
}

func TestParseAccessTokenRequiresBusinessClaim(t *testing.T) {
	cfg := testConfig()
	claims := jwt.MapClaims{
		"role": "merchant",
		"iss":  cfg.Issuer,
		"exp":  time.Now().Add(time.Hour).Unix(),
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.Secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ParseAccessToken(cfg, raw); err == nil {
		t.Fatal("expected missing business_id to fail")
	}
}
