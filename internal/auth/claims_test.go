package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

func TestGenerateAndParseAccessToken(t *testing.T) {
	token, err := GenerateAccessToken("ops-console", RoleOperator, testSecret, 15)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	claims, err := ParseToken(token, testSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "ops-console" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "ops-console")
	}
	if claims.Role != RoleOperator {
		t.Errorf("Role = %q, want %q", claims.Role, RoleOperator)
	}
	if claims.ID == "" {
		t.Error("JTI should not be empty")
	}
	if d := time.Until(claims.ExpiresAt.Time); d <= 14*time.Minute || d > 15*time.Minute {
		t.Errorf("token expires in %v, want ~15m", d)
	}
}

func TestGenerateAccessToken_UniqueJTI(t *testing.T) {
	a, _ := GenerateAccessToken("svc", RoleViewer, testSecret, 0)
	b, _ := GenerateAccessToken("svc", RoleViewer, testSecret, 0)
	ca, err := ParseToken(a, testSecret)
	if err != nil {
		t.Fatal(err)
	}
	cb, err := ParseToken(b, testSecret)
	if err != nil {
		t.Fatal(err)
	}
	if ca.ID == cb.ID {
		t.Error("two tokens share a JTI")
	}
}

func TestGenerateAccessToken_Rejects(t *testing.T) {
	if _, err := GenerateAccessToken("", RoleAdmin, testSecret, 15); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("empty subject error = %v, want ErrTokenInvalid", err)
	}
	if _, err := GenerateAccessToken("svc", Role("root"), testSecret, 15); !errors.Is(err, ErrInvalidRole) {
		t.Errorf("unknown role error = %v, want ErrInvalidRole", err)
	}
}

func TestParseToken_Invalid(t *testing.T) {
	token, err := GenerateAccessToken("svc", RoleViewer, testSecret, 15)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		token  string
		secret string
	}{
		{"wrong secret", token, "another-secret-key-at-least-32-characters"},
		{"garbage", "not-a-valid-jwt", testSecret},
		{"empty", "", testSecret},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseToken(tt.token, tt.secret); !errors.Is(err, ErrTokenInvalid) {
				t.Errorf("ParseToken() error = %v, want ErrTokenInvalid", err)
			}
		})
	}
}

func TestParseToken_Expired(t *testing.T) {
	now := time.Now()
	claims := CustomClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "svc",
			IssuedAt:  jwt.NewNumericDate(now.Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(now.Add(-time.Hour)),
		},
		Role: RoleViewer,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ParseToken(signed, testSecret); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("ParseToken() error = %v, want ErrTokenInvalid", err)
	}
}

func TestParseToken_UnknownRole(t *testing.T) {
	claims := CustomClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "svc",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: "superuser",
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ParseToken(signed, testSecret); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("ParseToken() error = %v, want ErrTokenInvalid", err)
	}
}

func TestParseToken_WrongAlgorithm(t *testing.T) {
	claims := CustomClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "svc",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: RoleAdmin,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ParseToken(signed, testSecret); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("ParseToken() error = %v, want ErrTokenInvalid", err)
	}
}
