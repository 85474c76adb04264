package otp

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odontoflow/esign/internal/domain/record"
	"github.com/odontoflow/esign/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

// NewRepositoryPG returns a Repository backed by the otp_challenge table.
func NewRepositoryPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const challengeCols = `id, clinic_id, patient_id, record_type, record_id, email_masked,
	code_hash, is_minor, expires_at, attempts_left, consumed, superseded, created_at, consumed_at`

func scanChallenge(row pgx.Row) (*Challenge, error) {
	var c Challenge
	err := row.Scan(&c.ID, &c.ClinicID, &c.PatientID, &c.RecordType, &c.RecordID, &c.EmailMasked,
		&c.CodeHash, &c.IsMinor, &c.ExpiresAt, &c.AttemptsLeft, &c.Consumed, &c.Superseded, &c.CreatedAt, &c.ConsumedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrChallengeNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *repoPG) Create(ctx context.Context, c *Challenge) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO otp_challenge (id, clinic_id, patient_id, record_type, record_id, email_masked,
			code_hash, is_minor, expires_at, attempts_left, consumed, superseded, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, false, false, $11)`,
		c.ID, c.ClinicID, c.PatientID, c.RecordType, c.RecordID, c.EmailMasked,
		c.CodeHash, c.IsMinor, c.ExpiresAt, c.AttemptsLeft, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert otp challenge: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Challenge, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+challengeCols+` FROM otp_challenge WHERE id = $1`, id)
	return scanChallenge(row)
}

func (r *repoPG) SupersedeActive(ctx context.Context, patientID uuid.UUID, ref record.Ref) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE otp_challenge
		SET superseded = true
		WHERE patient_id = $1 AND record_type = $2 AND record_id = $3
		  AND NOT consumed AND NOT superseded AND expires_at > now()`,
		patientID, ref.Kind, ref.ID)
	if err != nil {
		return 0, fmt.Errorf("supersede otp challenges: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Consume is a single conditional UPDATE so that two concurrent verifications
// of the same code cannot both succeed.
func (r *repoPG) Consume(ctx context.Context, id uuid.UUID, codeHash string) (*Challenge, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		UPDATE otp_challenge
		SET consumed = true, consumed_at = now()
		WHERE id = $1 AND code_hash = $2
		  AND NOT consumed AND NOT superseded AND expires_at > now() AND attempts_left > 0
		RETURNING `+challengeCols, id, codeHash)
	return scanChallenge(row)
}

func (r *repoPG) DecrementAttempts(ctx context.Context, id uuid.UUID) (int, error) {
	var remaining int
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE otp_challenge
		SET attempts_left = attempts_left - 1
		WHERE id = $1 AND attempts_left > 0 AND NOT consumed AND NOT superseded
		RETURNING attempts_left`, id).Scan(&remaining)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrChallengeNotFound
		}
		return 0, fmt.Errorf("decrement otp attempts: %w", err)
	}
	return remaining, nil
}

type contactDirectoryPG struct{ pool *pgxpool.Pool }

// NewContactDirectoryPG returns a ContactDirectory backed by the patient table.
func NewContactDirectoryPG(pool *pgxpool.Pool) ContactDirectory {
	return &contactDirectoryPG{pool: pool}
}

func (d *contactDirectoryPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return d.pool
}

func (d *contactDirectoryPG) Get(ctx context.Context, patientID uuid.UUID) (*Contact, error) {
	var c Contact
	err := d.conn(ctx).QueryRow(ctx, `
		SELECT id, name, COALESCE(email, ''), COALESCE(phone, ''), is_minor,
		       COALESCE(guardian_name, ''), COALESCE(guardian_email, '')
		FROM patient WHERE id = $1`, patientID).
		Scan(&c.PatientID, &c.Name, &c.Email, &c.Phone, &c.IsMinor, &c.GuardianName, &c.GuardianEmail)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, record.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}
