package auth

import (
	"errors"

	"github.com/pixscaler/pixscaler-api/utils/validation"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrPasswordTooShort = errors.New("password too short")
	ErrPasswordMismatch = errors.New("password does not match")
)

// DefaultBcryptCost is used when no valid cost is configured.
const DefaultBcryptCost = 12

// PasswordHasher hashes account passwords with bcrypt at one cost.
type PasswordHasher struct {
	cost int
}

// NewPasswordHasher returns a hasher for cost. Costs bcrypt would refuse fall
// back to DefaultBcryptCost.
func NewPasswordHasher(cost int) *PasswordHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	return &PasswordHasher{cost: cost}
}

func (h *PasswordHasher) Cost() int {
	return h.cost
}

// Hash enforces the minimum length and returns the bcrypt hash of password.
func (h *PasswordHasher) Hash(password string) (string, error) {
	if len(password) < validation.PasswordMinLength {
		return "", ErrPasswordTooShort
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// Verify returns ErrPasswordMismatch when password does not produce hashed.
func (h *PasswordHasher) Verify(hashed, password string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hashed), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrPasswordMismatch
	}
	return err
}

// NeedsRehash reports whether hashed was made at a different cost than the
// one configured now. Unparseable hashes always need a rehash.
func (h *PasswordHasher) NeedsRehash(hashed string) bool {
	cost, err := bcrypt.Cost([]byte(hashed))
	return err != nil || cost != h.cost
}
