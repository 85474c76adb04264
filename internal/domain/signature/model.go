// Package signature records electronic signatures over clinical records.
// Each record accepts at most one signature per signer type; the stored
// content hash freezes what the signer saw and is re-checked on every read.
package signature

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/odontoflow/esign/internal/domain/record"
)

// SignerType distinguishes who is signing a record.
type SignerType string

const (
	SignerPatient SignerType = "patient"
	SignerDentist SignerType = "dentist"
)

var (
	// ErrInvalidSigner is returned for an unknown signer type.
	ErrInvalidSigner = errors.New("invalid signer type")

	// ErrDuplicateSignature is returned when a record already carries a
	// signature of the same signer type.
	ErrDuplicateSignature = errors.New("record already signed by this signer type")

	// ErrSignatureNotFound is returned when a record carries no signature of
	// the requested signer type.
	ErrSignatureNotFound = errors.New("signature not found")

	// ErrMissingVerification is returned when a patient signature arrives
	// without a consumed OTP challenge and without the in-person bypass.
	ErrMissingVerification = errors.New("patient signature requires identity verification")
)

// ParseSignerType validates a signer type string.
func ParseSignerType(s string) (SignerType, error) {
	switch SignerType(s) {
	case SignerPatient, SignerDentist:
		return SignerType(s), nil
	}
	return "", ErrInvalidSigner
}

// Signature is one stored signature. ContentHashVerified is computed on read
// by comparing the stored hash with the record's current fingerprint; it is
// never persisted.
type Signature struct {
	ID           uuid.UUID   `db:"id" json:"id"`
	ClinicID     uuid.UUID   `db:"clinic_id" json:"clinic_id"`
	RecordType   record.Kind `db:"record_type" json:"record_type"`
	RecordID     uuid.UUID   `db:"record_id" json:"record_id"`
	SignerType   SignerType  `db:"signer_type" json:"signer_type"`
	SignerName   string      `db:"signer_name" json:"signer_name"`
	ContentHash  string      `db:"content_hash" json:"content_hash"`
	ImageData    string      `db:"image_data" json:"image_data"`
	ChallengeID  *uuid.UUID  `db:"challenge_id" json:"challenge_id,omitempty"`
	OTPBypassed  bool        `db:"otp_bypassed" json:"otp_bypassed"`
	BypassReason string      `db:"bypass_reason" json:"bypass_reason,omitempty"`
	SignedAt     time.Time   `db:"signed_at" json:"signed_at"`

	ContentHashVerified bool `db:"-" json:"content_hash_verified"`
}

// Status is the aggregate signing state of one record.
type Status string

const (
	StatusUnsigned    Status = "unsigned"
	StatusPatientOnly Status = "patient_only"
	StatusDentistOnly Status = "dentist_only"
	StatusFullySigned Status = "fully_signed"
)

// ResolveStatus derives a record's signing status from its signatures.
func ResolveStatus(sigs []*Signature) Status {
	var patient, dentist bool
	for _, s := range sigs {
		switch s.SignerType {
		case SignerPatient:
			patient = true
		case SignerDentist:
			dentist = true
		}
	}
	switch {
	case patient && dentist:
		return StatusFullySigned
	case patient:
		return StatusPatientOnly
	case dentist:
		return StatusDentistOnly
	}
	return StatusUnsigned
}
