package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrAdminDisabled is returned when no admin credential is configured.
	ErrAdminDisabled = errors.New("admin credential not configured")
	// ErrInvalidCredentials is returned when user/password don't match.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Admin holds the single shared credential guarding privileged operations.
// Only the bcrypt hash of the password is kept in memory.
type Admin struct {
	user string
	hash string
}

// NewAdmin builds the admin credential. A non-empty passwordHash takes
// precedence over password. With neither set the credential is disabled and
// every verification fails.
func NewAdmin(user, password, passwordHash string) (*Admin, error) {
	a := &Admin{user: user}
	switch {
	case passwordHash != "":
		if _, err := bcrypt.Cost([]byte(passwordHash)); err != nil {
			return nil, fmt.Errorf("invalid admin password hash: %w", err)
		}
		a.hash = passwordHash
	case password != "":
		hash, err := HashPassword(password)
		if err != nil {
			return nil, err
		}
		a.hash = hash
	}
	return a, nil
}

// Enabled reports whether a credential is configured.
func (a *Admin) Enabled() bool {
	return a != nil && a.user != "" && a.hash != ""
}

// Verify checks a user/password pair against the credential.
func (a *Admin) Verify(user, password string) error {
	if !a.Enabled() {
		return ErrAdminDisabled
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(a.user)) == 1
	// Compare the password even on a user mismatch.
	passErr := ComparePassword(a.hash, password)
	if !userOK || passErr != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// HashPassword generates a bcrypt hash of the password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// ComparePassword compares a bcrypt hashed password with its plaintext version.
func ComparePassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}
