package otp

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// CodeLength is the number of digits of an issued code.
const CodeLength = 6

const defaultTTL = 5 * time.Minute

// Challenge is an issued one-time code. Code is only populated on Issue.
type Challenge struct {
	ID        string    `json:"challenge_id"`
	Subject   string    `json:"-"`
	Code      string    `json:"code,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Verifier issues and checks one-time codes. A challenge verifies at most once.
type Verifier interface {
	Issue(ctx context.Context, subject string) (Challenge, error)
	Verify(ctx context.Context, challengeID, code string) (bool, error)
}

// ValidFormat reports whether code is exactly CodeLength ASCII digits.
func ValidFormat(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

var codeSpace = big.NewInt(1_000_000)

func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", CodeLength, n.Int64()), nil
}

func hashCode(code string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash code: %w", err)
	}
	return string(hash), nil
}

func matches(hash, code string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) == nil
}
