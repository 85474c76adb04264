package record

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Kind identifies one of the clinical record types that can carry signatures.
type Kind string

const (
	KindAnamnesis Kind = "anamnesis"
	KindProcedure Kind = "procedure"
	KindExam      Kind = "exam"
)

var (
	// ErrInvalidKind is returned when a record type is not one of the
	// supported clinical record kinds.
	ErrInvalidKind = errors.New("invalid clinical record kind")

	// ErrNotFound is returned when a referenced clinical record does not exist.
	ErrNotFound = errors.New("clinical record not found")
)

// ParseKind validates a record type string.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindAnamnesis, KindProcedure, KindExam:
		return Kind(s), nil
	}
	return "", ErrInvalidKind
}

// Valid reports whether k is a supported record kind.
func (k Kind) Valid() bool {
	_, err := ParseKind(string(k))
	return err == nil
}

// Ref identifies a single clinical record across the supported kinds.
type Ref struct {
	Kind Kind      `json:"record_type"`
	ID   uuid.UUID `json:"record_id"`
}

// Anamnesis maps to the anamnesis table: a filled health questionnaire.
type Anamnesis struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	ClinicID     uuid.UUID       `db:"clinic_id" json:"clinic_id"`
	PatientID    uuid.UUID       `db:"patient_id" json:"patient_id"`
	PatientName  string          `db:"patient_name" json:"patient_name"`
	TemplateName string          `db:"template_name" json:"template_name"`
	Answers      json.RawMessage `db:"answers" json:"answers"`
	FilledAt     *time.Time      `db:"filled_at" json:"filled_at,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// Procedure maps to the dental_procedure table.
type Procedure struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	ClinicID    uuid.UUID  `db:"clinic_id" json:"clinic_id"`
	PatientID   uuid.UUID  `db:"patient_id" json:"patient_id"`
	PatientName string     `db:"patient_name" json:"patient_name"`
	ToothCodes  *string    `db:"tooth_codes" json:"tooth_codes,omitempty"`
	Description string     `db:"description" json:"description"`
	DentistName string     `db:"dentist_name" json:"dentist_name"`
	PerformedAt *time.Time `db:"performed_at" json:"performed_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// Exam maps to the exam table: an imaging or laboratory order with attached files.
type Exam struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	ClinicID    uuid.UUID  `db:"clinic_id" json:"clinic_id"`
	PatientID   uuid.UUID  `db:"patient_id" json:"patient_id"`
	PatientName string     `db:"patient_name" json:"patient_name"`
	OrderedAt   *time.Time `db:"ordered_at" json:"ordered_at,omitempty"`
	FileKind    *string    `db:"file_kind" json:"file_kind,omitempty"`
	FileURLs    []string   `db:"file_urls" json:"file_urls"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// Record is the kind-independent view of a clinical record used by the
// signing flow: ownership plus the canonical content projection.
type Record struct {
	Ref       Ref
	ClinicID  uuid.UUID
	PatientID uuid.UUID
	Snapshot  Snapshot
}

// UnsignedRecord is a read-only listing row for records that still lack at
// least one required signature.
type UnsignedRecord struct {
	RecordType  Kind      `json:"record_type"`
	RecordID    uuid.UUID `json:"record_id"`
	PatientID   uuid.UUID `json:"patient_id"`
	PatientName string    `json:"patient_name"`
	Title       string    `json:"title"`
	CreatedAt   time.Time `json:"created_at"`
}
