package auth

import (
	"testing"
)

func TestValidateTokenRoundTrip(t *testing.T) {
	svc := NewJWTService("secret")

	token, err := svc.GenerateToken("u-7", "42")
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if claims.UserID != "u-7" {
		t.Errorf("expected user 'u-7', got %q", claims.UserID)
	}
	if claims.TenantID != "42" {
		t.Errorf("expected tenant '42', got %q", claims.TenantID)
	}
}

func TestValidateTokenEmptyTenant(t *testing.T) {
	svc := NewJWTService("secret")

	token, err := svc.GenerateToken("u-1", "")
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if claims.TenantID != "" {
		t.Errorf("expected empty tenant, got %q", claims.TenantID)
	}
}

func TestValidateTokenWrongSecret(t *testing.T) {
	token, err := NewJWTService("secret-a").GenerateToken("u-1", "1")
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	if _, err := NewJWTService("secret-b").ValidateToken(token); err == nil {
		t.Fatal("expected token signed with a different secret to be rejected")
	}
}

func TestValidateTokenMalformed(t *testing.T) {
	svc := NewJWTService("secret")

	for _, token := range []string{"", "garbage", "a.b.c"} {
		if _, err := svc.ValidateToken(token); err == nil {
			t.Errorf("expected malformed token %q to be rejected", token)
		}
	}
}
