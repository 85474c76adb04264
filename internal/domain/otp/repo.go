package otp

import (
	"context"

	"github.com/google/uuid"

	"github.com/odontoflow/esign/internal/domain/record"
)

// Repository persists OTP challenges. Consume and DecrementAttempts must be
// atomic: concurrent verifications of the same challenge may not both succeed.
type Repository interface {
	Create(ctx context.Context, c *Challenge) error
	GetByID(ctx context.Context, id uuid.UUID) (*Challenge, error)

	// SupersedeActive marks every active challenge for (patient, record) as
	// superseded and returns how many were affected.
	SupersedeActive(ctx context.Context, patientID uuid.UUID, ref record.Ref) (int, error)

	// Consume marks the challenge consumed if and only if it is still active
	// and its stored hash equals codeHash. Returns the consumed challenge, or
	// ErrChallengeNotFound when no row matched the predicate.
	Consume(ctx context.Context, id uuid.UUID, codeHash string) (*Challenge, error)

	// DecrementAttempts burns one attempt on an active challenge and returns
	// the attempts remaining afterwards.
	DecrementAttempts(ctx context.Context, id uuid.UUID) (int, error)
}

// Contact is the deliverable contact surface of a patient.
type Contact struct {
	PatientID     uuid.UUID
	Name          string
	Email         string
	Phone         string
	IsMinor       bool
	GuardianName  string
	GuardianEmail string
}

// ContactDirectory resolves patient contact details for code delivery.
type ContactDirectory interface {
	Get(ctx context.Context, patientID uuid.UUID) (*Contact, error)
}
