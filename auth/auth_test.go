package auth

import (
	"atme/domain"
	"atme/errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHashAndCompare(t *testing.T) {
	req := require.New(t)
	password := "CorrectHorse-Battery9"

	hash, err := HashPassword(password)
	req.NoError(err)
	req.True(strings.HasPrefix(hash, "$argon2id$"))

	match, err := ComparePassword(password, hash)
	req.NoError(err)
	req.True(match)

	match, err = ComparePassword("WrongPassword", hash)
	req.NoError(err)
	req.False(match)

	_, err = ComparePassword(password, "plain-text")
	req.ErrorIs(err, errors.ErrInvalidCredentials)
}

func TestRegistrationValidation(t *testing.T) {
	tests := []struct {
		name    string
		req     RegisterRequest
		wantErr bool
	}{
		{"Valid request", RegisterRequest{"test@example.com", "ComplexPass123!", "Ada", "Lovelace"}, false},
		{"Missing first name", RegisterRequest{"test@example.com", "ComplexPass123!", "", "Lovelace"}, true},
		{"Invalid email", RegisterRequest{"notanemail", "ComplexPass123!", "Ada", ""}, true},
		{"Password too short", RegisterRequest{"test@example.com", "Short1!", "Ada", ""}, true},
		{"Missing digit", RegisterRequest{"test@example.com", "NoDigitPass!", "Ada", ""}, true},
		{"Missing special char", RegisterRequest{"test@example.com", "NoSpecialChar123", "Ada", ""}, true},
		{"Missing uppercase", RegisterRequest{"test@example.com", "nouppercase123!", "Ada", ""}, true},
		{"Password too long", RegisterRequest{"test@example.com", strings.Repeat("a", 73), "Ada", ""}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRegister(tt.req)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestValidateUsername(t *testing.T) {
	req := require.New(t)

	req.NoError(ValidateUsername("alice42"))
	req.ErrorIs(ValidateUsername("Alice"), errors.ErrInvalidUsername)
	req.ErrorIs(ValidateUsername("al"), errors.ErrInvalidUsername)
	req.ErrorIs(ValidateUsername("ali ce"), errors.ErrInvalidUsername)
	req.ErrorIs(ValidateUsername(""), errors.ErrInvalidUsername)
}

func TestTokenIssuer(t *testing.T) {
	req := require.New(t)
	issuer := NewTokenIssuer("a-long-enough-test-secret", time.Hour)
	identity := domain.Identity{ID: "u1", Username: "alice"}

	token, err := issuer.Generate(identity, []string{"user"})
	req.NoError(err)

	claims, err := issuer.Validate(token)
	req.NoError(err)
	req.Equal("u1", claims.UserID)
	req.Equal("alice", claims.Username)
	req.Equal([]string{"user"}, claims.Roles)

	// Then a token signed with another secret is refused
	_, err = NewTokenIssuer("another-secret", time.Hour).Validate(token)
	req.ErrorIs(err, errors.ErrUnauthenticated)
}

func TestTokenIssuer_Expired(t *testing.T) {
	req := require.New(t)
	issuer := NewTokenIssuer("a-long-enough-test-secret", time.Minute)
	issuer.now = func() time.Time { return time.Now().Add(-time.Hour) }

	token, err := issuer.Generate(domain.Identity{ID: "u1", Username: "alice"}, nil)
	req.NoError(err)

	_, err = issuer.Validate(token)
	req.ErrorIs(err, errors.ErrUnauthenticated)
}

func BenchmarkHashPassword(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_, _ = HashPassword("A-very-long-and-complex-password-for-bench-123!")
	}
}
