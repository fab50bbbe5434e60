package session

import (
	"crypto/rand"
	"encoding/base64"
	"errors"

	"golang.org/x/crypto/bcrypt"

	"bosun/pkg/problems"
)

// MinPasswordLength is the shortest password accepted at registration.
const MinPasswordLength = 6

// HashPassword bcrypts plain at cost. A cost outside bcrypt's range falls
// back to bcrypt.DefaultCost.
func HashPassword(plain string, cost int) (string, error) {
	if len(plain) < MinPasswordLength {
		return "", problems.New(problems.KindInvalid, "password must be at least %d characters", MinPasswordLength)
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	b, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// CheckPassword reports whether plain matches hash.
func CheckPassword(hash, plain string) bool {
	if hash == "" {
		return false
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain))
	return err == nil
}

// RandomPassword returns a URL-safe random secret of n bytes of entropy.
func RandomPassword(n int) (string, error) {
	if n <= 0 {
		return "", errors.New("password entropy must be positive")
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
