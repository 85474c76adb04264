package signature

import (
	"context"

	"github.com/google/uuid"

	"github.com/odontoflow/esign/internal/domain/otp"
	"github.com/odontoflow/esign/internal/domain/record"
)

// Repository persists signatures. Create must enforce the one-signature-per
// (record, signer type) rule at the storage layer and return
// ErrDuplicateSignature on violation.
type Repository interface {
	Create(ctx context.Context, s *Signature) error
	ListForRecord(ctx context.Context, ref record.Ref) ([]*Signature, error)

	// GetForRecord returns the record's signature of one signer type, or
	// ErrSignatureNotFound when none exists.
	GetForRecord(ctx context.Context, ref record.Ref, signer SignerType) (*Signature, error)
}

// ChallengeReader looks up OTP challenges when validating patient signatures.
type ChallengeReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*otp.Challenge, error)
}
