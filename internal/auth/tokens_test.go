package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestIssueAndParse(t *testing.T) {
	ti := NewTokenIssuer([]byte("test-secret"))
	raw, err := ti.Issue("u-1", "s-1", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if strings.Count(raw, ".") != 2 {
		t.Fatalf("token %q is not a JWT", raw)
	}

	claims, err := ti.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "u-1" {
		t.Errorf("sub = %q, want u-1", claims.Subject)
	}
	if claims.ID != "s-1" {
		t.Errorf("jti = %q, want s-1", claims.ID)
	}
}

func TestParseRejectsExpired(t *testing.T) {
	ti := NewTokenIssuer([]byte("test-secret"))
	raw, err := ti.Issue("u-1", "s-1", time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := ti.Parse(raw); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestParseRejectsOtherKey(t *testing.T) {
	raw, err := NewTokenIssuer([]byte("one")).Issue("u-1", "s-1", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := NewTokenIssuer([]byte("two")).Parse(raw); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestParseRejectsOtherAlgorithm(t *testing.T) {
	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   "u-1",
		ID:        "s-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := NewTokenIssuer([]byte("test-secret")).Parse(raw); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestParseGarbage(t *testing.T) {
	if _, err := NewTokenIssuer([]byte("k")).Parse("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}
