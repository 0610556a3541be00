// Package auth provides authentication primitives for the service, including admin token generation/validation and JWT creation/verification.
// Two authentication methods are supported: JWTs (stateless verification of the acting user) and admin tokens (long-lived bcrypt-hashed tokens for operational endpoints).
// See internal/middleware/auth.go for the request-time authentication logic that uses these primitives.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// AdminTokenLength is the length of the random part of the token in bytes
	AdminTokenLength = 32

	// AdminTokenPrefix marks tokens issued by this service
	AdminTokenPrefix = "agk"

	// BcryptCost is the cost factor for bcrypt hashing
	BcryptCost = 12
)

// GenerateAdminToken creates a new random admin token.
// Returns: full token (to show once), bcrypt hash (to store).
func GenerateAdminToken() (token string, hash string, err error) {
	randomBytes := make([]byte, AdminTokenLength)
	_, err = rand.Read(randomBytes)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	randomPart := base64.RawURLEncoding.EncodeToString(randomBytes)
	fullToken := fmt.Sprintf("%s_%s", AdminTokenPrefix, randomPart)

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(fullToken), BcryptCost)
	if err != nil {
		return "", "", fmt.Errorf("failed to hash admin token: %w", err)
	}

	return fullToken, string(hashBytes), nil
}

// ValidateAdminToken checks if a provided token matches the stored hash
func ValidateAdminToken(providedToken, storedHash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(providedToken))
	return err == nil
}

// ExtractBearerToken extracts the token from an Authorization header
// Expected format: "Bearer agk_abc123xyz..." or "Bearer <jwt>"
func ExtractBearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header is empty")
	}

	if !strings.HasPrefix(header, "Bearer ") {
		return "", errors.New("authorization header must start with 'Bearer '")
	}

	token := strings.TrimPrefix(header, "Bearer ")
	token = strings.TrimSpace(token)

	if token == "" {
		return "", errors.New("token is empty after Bearer prefix")
	}

	return token, nil
}

// IsAdminToken reports whether a bearer token is an admin token rather than a JWT
func IsAdminToken(token string) bool {
	return strings.HasPrefix(token, AdminTokenPrefix+"_")
}
