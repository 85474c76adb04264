package batch

import (
	"context"

	"github.com/google/uuid"

	"github.com/odontoflow/esign/internal/domain/record"
)

// Repository persists signing batches. Create must allocate the clinic's next
// batch number atomically: two concurrent creations may never share a number
// and numbers within a clinic must be strictly increasing. A creation that
// fails after allocating may leave a gap in the sequence.
type Repository interface {
	Create(ctx context.Context, clinicID uuid.UUID, createdBy string, refs []record.Ref) (*Batch, error)
	GetByID(ctx context.Context, clinicID, id uuid.UUID) (*Batch, error)
	ListByClinic(ctx context.Context, clinicID uuid.UUID, limit, offset int) ([]*Batch, int, error)
}

// PortalLinker builds the public signing-portal URL for a batch.
type PortalLinker interface {
	SigningURL(clinicID uuid.UUID, batchNumber int64) string
}
