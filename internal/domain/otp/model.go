// Package otp implements one-time verification codes for patient record
// signing. A challenge is bound to one patient and one clinical record;
// issuing a new challenge supersedes any active one for the same pair.
package otp

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odontoflow/esign/internal/domain/record"
)

const (
	// CodeLength is the number of digits in a verification code.
	CodeLength = 6

	// DefaultTTL is the challenge lifetime when no override is configured.
	DefaultTTL = 10 * time.Minute

	// DefaultMaxAttempts is the number of wrong codes tolerated per challenge.
	DefaultMaxAttempts = 5
)

var (
	// ErrChallengeNotFound is returned when no challenge exists for an id.
	ErrChallengeNotFound = errors.New("otp challenge not found")

	// ErrChallengeExpired is returned when a challenge is past its TTL or was
	// superseded by a newer one.
	ErrChallengeExpired = errors.New("otp challenge expired")

	// ErrChallengeConsumed is returned when a challenge was already used.
	ErrChallengeConsumed = errors.New("otp challenge already consumed")

	// ErrAttemptsExhausted is returned when no verification attempts remain.
	ErrAttemptsExhausted = errors.New("otp attempts exhausted")
)

// Challenge is a single issued verification code. Only the code's hash is
// stored; the plaintext code exists only in the delivery message.
type Challenge struct {
	ID           uuid.UUID   `db:"id" json:"id"`
	ClinicID     uuid.UUID   `db:"clinic_id" json:"clinic_id"`
	PatientID    uuid.UUID   `db:"patient_id" json:"patient_id"`
	RecordType   record.Kind `db:"record_type" json:"record_type"`
	RecordID     uuid.UUID   `db:"record_id" json:"record_id"`
	EmailMasked  string      `db:"email_masked" json:"email_masked"`
	CodeHash     string      `db:"code_hash" json:"-"`
	IsMinor      bool        `db:"is_minor" json:"is_minor"`
	ExpiresAt    time.Time   `db:"expires_at" json:"expires_at"`
	AttemptsLeft int         `db:"attempts_left" json:"attempts_left"`
	Consumed     bool        `db:"consumed" json:"consumed"`
	Superseded   bool        `db:"superseded" json:"superseded"`
	CreatedAt    time.Time   `db:"created_at" json:"created_at"`
	ConsumedAt   *time.Time  `db:"consumed_at" json:"consumed_at,omitempty"`
}

// Active reports whether the challenge can still be verified at t.
func (c *Challenge) Active(t time.Time) bool {
	return !c.Consumed && !c.Superseded && c.AttemptsLeft > 0 && t.Before(c.ExpiresAt)
}

// GenerateCode produces a random numeric code of CodeLength digits.
func GenerateCode() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < CodeLength; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("generate otp code: %w", err)
	}
	return fmt.Sprintf("%0*d", CodeLength, n), nil
}

// HashCode returns the hex SHA-256 of a verification code.
func HashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// MaskEmail hides most of an email address for display: "m•••a@e•••e.com".
// Addresses too short to mask keep their first rune only.
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return "•••"
	}
	local, domain := email[:at], email[at+1:]

	maskPart := func(s string) string {
		r := []rune(s)
		if len(r) == 0 {
			return "•••"
		}
		if len(r) <= 2 {
			return string(r[0]) + "•••"
		}
		return string(r[0]) + "•••" + string(r[len(r)-1])
	}

	dot := strings.LastIndex(domain, ".")
	if dot <= 0 {
		return maskPart(local) + "@" + maskPart(domain)
	}
	return maskPart(local) + "@" + maskPart(domain[:dot]) + domain[dot:]
}
