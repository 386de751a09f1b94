package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func mintToken(t *testing.T, secret string, method jwt.SigningMethod, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return s
}

func TestVerifierValidToken(t *testing.T) {
	v := NewJWTVerifier(testSecret, 0)
	token := mintToken(t, testSecret, jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": 42,
		"email":   "user@example.com",
		"exp":     time.Now().Add(time.Hour).Unix(),
	})

	userID, err := v.UserFromToken(token)
	if err != nil {
		t.Fatalf("UserFromToken() error: %v", err)
	}
	if userID != 42 {
		t.Errorf("userID = %d, want 42", userID)
	}
}

func TestVerifierMissingToken(t *testing.T) {
	v := NewJWTVerifier(testSecret, 0)
	_, err := v.UserFromToken("")
	if !errors.Is(err, ErrTokenMissing) {
		t.Errorf("error = %v, want ErrTokenMissing", err)
	}
}

func TestVerifierExpiredToken(t *testing.T) {
	v := NewJWTVerifier(testSecret, 0)
	token := mintToken(t, testSecret, jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": 42,
		"exp":     time.Now().Add(-time.Hour).Unix(),
	})

	_, err := v.UserFromToken(token)
	if !errors.Is(err, ErrTokenExpired) {
		t.Errorf("error = %v, want ErrTokenExpired", err)
	}
}

func TestVerifierLeewayAbsorbsSkew(t *testing.T) {
	v := NewJWTVerifier(testSecret, time.Minute)
	token := mintToken(t, testSecret, jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": 42,
		"exp":     time.Now().Add(-10 * time.Second).Unix(),
	})

	if _, err := v.UserFromToken(token); err != nil {
		t.Errorf("token within leeway rejected: %v", err)
	}
}

func TestVerifierWrongSecret(t *testing.T) {
	v := NewJWTVerifier(testSecret, 0)
	token := mintToken(t, "another-secret-another-secret-32", jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": 42,
		"exp":     time.Now().Add(time.Hour).Unix(),
	})

	_, err := v.UserFromToken(token)
	if !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("error = %v, want ErrTokenInvalid", err)
	}
}

func TestVerifierWrongAlgorithm(t *testing.T) {
	v := NewJWTVerifier(testSecret, 0)
	token := mintToken(t, testSecret, jwt.SigningMethodHS512, jwt.MapClaims{
		"user_id": 42,
		"exp":     time.Now().Add(time.Hour).Unix(),
	})

	_, err := v.UserFromToken(token)
	if !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("error = %v, want ErrTokenInvalid for HS512", err)
	}
}

func TestVerifierMissingExpiry(t *testing.T) {
	v := NewJWTVerifier(testSecret, 0)
	token := mintToken(t, testSecret, jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": 42,
	})

	_, err := v.UserFromToken(token)
	if !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("error = %v, want ErrTokenInvalid when exp is absent", err)
	}
}

func TestVerifierMissingUserID(t *testing.T) {
	v := NewJWTVerifier(testSecret, 0)
	token := mintToken(t, testSecret, jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	_, err := v.UserFromToken(token)
	if !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("error = %v, want ErrTokenInvalid when user_id is absent", err)
	}
}

func TestVerifierGarbageToken(t *testing.T) {
	v := NewJWTVerifier(testSecret, 0)
	_, err := v.UserFromToken("not.a.jwt")
	if !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("error = %v, want ErrTokenInvalid", err)
	}
}
