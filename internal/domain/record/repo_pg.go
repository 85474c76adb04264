package record

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odontoflow/esign/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type sourcePG struct{ pool *pgxpool.Pool }

// NewSourcePG returns a Source backed by the anamnesis, dental_procedure and
// exam tables.
func NewSourcePG(pool *pgxpool.Pool) Source { return &sourcePG{pool: pool} }

func (s *sourcePG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return s.pool
}

func (s *sourcePG) Get(ctx context.Context, ref Ref) (*Record, error) {
	switch ref.Kind {
	case KindAnamnesis:
		return s.getAnamnesis(ctx, ref.ID)
	case KindProcedure:
		return s.getProcedure(ctx, ref.ID)
	case KindExam:
		return s.getExam(ctx, ref.ID)
	}
	return nil, ErrInvalidKind
}

func (s *sourcePG) getAnamnesis(ctx context.Context, id uuid.UUID) (*Record, error) {
	var a Anamnesis
	err := s.conn(ctx).QueryRow(ctx, `
		SELECT id, clinic_id, patient_id, patient_name, template_name, answers, filled_at, created_at, updated_at
		FROM anamnesis WHERE id = $1`, id).
		Scan(&a.ID, &a.ClinicID, &a.PatientID, &a.PatientName, &a.TemplateName, &a.Answers, &a.FilledAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &Record{
		Ref:       Ref{Kind: KindAnamnesis, ID: a.ID},
		ClinicID:  a.ClinicID,
		PatientID: a.PatientID,
		Snapshot:  a.Snapshot(),
	}, nil
}

func (s *sourcePG) getProcedure(ctx context.Context, id uuid.UUID) (*Record, error) {
	var p Procedure
	err := s.conn(ctx).QueryRow(ctx, `
		SELECT id, clinic_id, patient_id, patient_name, tooth_codes, description, dentist_name, performed_at, created_at, updated_at
		FROM dental_procedure WHERE id = $1`, id).
		Scan(&p.ID, &p.ClinicID, &p.PatientID, &p.PatientName, &p.ToothCodes, &p.Description, &p.DentistName, &p.PerformedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &Record{
		Ref:       Ref{Kind: KindProcedure, ID: p.ID},
		ClinicID:  p.ClinicID,
		PatientID: p.PatientID,
		Snapshot:  p.Snapshot(),
	}, nil
}

func (s *sourcePG) getExam(ctx context.Context, id uuid.UUID) (*Record, error) {
	var e Exam
	err := s.conn(ctx).QueryRow(ctx, `
		SELECT id, clinic_id, patient_id, patient_name, ordered_at, file_kind, file_urls, created_at, updated_at
		FROM exam WHERE id = $1`, id).
		Scan(&e.ID, &e.ClinicID, &e.PatientID, &e.PatientName, &e.OrderedAt, &e.FileKind, &e.FileURLs, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &Record{
		Ref:       Ref{Kind: KindExam, ID: e.ID},
		ClinicID:  e.ClinicID,
		PatientID: e.PatientID,
		Snapshot:  e.Snapshot(),
	}, nil
}

func mapNotFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

type unsignedFinderPG struct{ pool *pgxpool.Pool }

// NewUnsignedFinderPG returns an UnsignedFinder backed by a read-only
// aggregate over the three record tables and their signatures.
func NewUnsignedFinderPG(pool *pgxpool.Pool) UnsignedFinder { return &unsignedFinderPG{pool: pool} }

func (f *unsignedFinderPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return f.pool
}

// unsignedUnion selects records missing at least one of the two required
// signer types. The signature table is keyed by (record_type, record_id,
// signer_type), so a fully signed record joins exactly two rows.
const unsignedUnion = `
	SELECT 'anamnesis' AS record_type, a.id, a.patient_id, a.patient_name, a.template_name AS title, a.created_at
	FROM anamnesis a
	WHERE a.clinic_id = $1 AND ($2::uuid IS NULL OR a.patient_id = $2)
	  AND (SELECT COUNT(*) FROM clinical_record_signature s
	       WHERE s.record_type = 'anamnesis' AND s.record_id = a.id) < 2
	UNION ALL
	SELECT 'procedure', p.id, p.patient_id, p.patient_name, p.description, p.created_at
	FROM dental_procedure p
	WHERE p.clinic_id = $1 AND ($2::uuid IS NULL OR p.patient_id = $2)
	  AND (SELECT COUNT(*) FROM clinical_record_signature s
	       WHERE s.record_type = 'procedure' AND s.record_id = p.id) < 2
	UNION ALL
	SELECT 'exam', e.id, e.patient_id, e.patient_name, COALESCE(e.file_kind, 'exam'), e.created_at
	FROM exam e
	WHERE e.clinic_id = $1 AND ($2::uuid IS NULL OR e.patient_id = $2)
	  AND (SELECT COUNT(*) FROM clinical_record_signature s
	       WHERE s.record_type = 'exam' AND s.record_id = e.id) < 2`

func (f *unsignedFinderPG) ListUnsigned(ctx context.Context, clinicID uuid.UUID, patientID *uuid.UUID, limit, offset int) ([]*UnsignedRecord, int, error) {
	var total int
	if err := f.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM (`+unsignedUnion+`) u`, clinicID, patientID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count unsigned records: %w", err)
	}

	rows, err := f.conn(ctx).Query(ctx,
		unsignedUnion+` ORDER BY created_at DESC LIMIT $3 OFFSET $4`,
		clinicID, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*UnsignedRecord
	for rows.Next() {
		var u UnsignedRecord
		if err := rows.Scan(&u.RecordType, &u.RecordID, &u.PatientID, &u.PatientName, &u.Title, &u.CreatedAt); err != nil {
			return nil, 0, err
		}
		items = append(items, &u)
	}
	return items, total, rows.Err()
}
