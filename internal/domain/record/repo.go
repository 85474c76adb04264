package record

import (
	"context"

	"github.com/google/uuid"
)

// Source reads live clinical records for fingerprinting and ownership checks.
// Records are never modified through this package.
type Source interface {
	Get(ctx context.Context, ref Ref) (*Record, error)
}

// UnsignedFinder enumerates records across the three record kinds that still
// lack a required signature, for batch-selection UIs.
type UnsignedFinder interface {
	ListUnsigned(ctx context.Context, clinicID uuid.UUID, patientID *uuid.UUID, limit, offset int) ([]*UnsignedRecord, int, error)
}
