// Package batch groups clinical records into numbered signing batches.
// Batch numbers are sequential per clinic and back the short links handed to
// patients at the front desk.
package batch

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/odontoflow/esign/internal/domain/record"
)

var (
	// ErrEmptyBatch is returned when a batch is created with no records.
	ErrEmptyBatch = errors.New("batch must contain at least one record")

	// ErrBatchNotFound is returned when no batch exists for an id.
	ErrBatchNotFound = errors.New("batch not found")

	// ErrBatchRecordNotFound is returned when a batch references a record
	// that does not exist in the clinic.
	ErrBatchRecordNotFound = errors.New("batch references a missing record")
)

// Batch is a numbered group of records awaiting signature. SigningURL is
// derived from the batch number at read time and never persisted.
type Batch struct {
	ID          uuid.UUID `db:"id" json:"id"`
	ClinicID    uuid.UUID `db:"clinic_id" json:"clinic_id"`
	BatchNumber int64     `db:"batch_number" json:"batch_number"`
	CreatedBy   string    `db:"created_by" json:"created_by"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`

	SigningURL  string    `db:"-" json:"signing_url"`
	RecordCount int       `db:"-" json:"record_count"`
	Members     []*Member `db:"-" json:"members,omitempty"`
}

// Member is one record inside a batch, in presentation order.
type Member struct {
	BatchID    uuid.UUID   `db:"batch_id" json:"-"`
	RecordType record.Kind `db:"record_type" json:"record_type"`
	RecordID   uuid.UUID   `db:"record_id" json:"record_id"`
	Position   int         `db:"position" json:"position"`
}

// Refs returns the batch members as record references.
func (b *Batch) Refs() []record.Ref {
	refs := make([]record.Ref, 0, len(b.Members))
	for _, m := range b.Members {
		refs = append(refs, record.Ref{Kind: m.RecordType, ID: m.RecordID})
	}
	return refs
}
