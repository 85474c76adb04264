package signature

import (
	"context"
	"errors"
	"fmt"

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

// NewRepositoryPG returns a Repository backed by the clinical_record_signature
// table. Uniqueness per (record_type, record_id, signer_type) is enforced by a
// database constraint.
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

const signatureCols = `id, clinic_id, record_type, record_id, signer_type, signer_name,
	content_hash, image_data, challenge_id, otp_bypassed, bypass_reason, signed_at`

func (r *repoPG) Create(ctx context.Context, s *Signature) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO clinical_record_signature (id, clinic_id, record_type, record_id, signer_type,
			signer_name, content_hash, image_data, challenge_id, otp_bypassed, bypass_reason, signed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		s.ID, s.ClinicID, s.RecordType, s.RecordID, s.SignerType,
		s.SignerName, s.ContentHash, s.ImageData, s.ChallengeID, s.OTPBypassed, s.BypassReason, s.SignedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateSignature
		}
		return fmt.Errorf("insert signature: %w", err)
	}
	return nil
}

func (r *repoPG) GetForRecord(ctx context.Context, ref record.Ref, signer SignerType) (*Signature, error) {
	var s Signature
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT `+signatureCols+`
		FROM clinical_record_signature
		WHERE record_type = $1 AND record_id = $2 AND signer_type = $3`,
		ref.Kind, ref.ID, signer).
		Scan(&s.ID, &s.ClinicID, &s.RecordType, &s.RecordID, &s.SignerType, &s.SignerName,
			&s.ContentHash, &s.ImageData, &s.ChallengeID, &s.OTPBypassed, &s.BypassReason, &s.SignedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSignatureNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (r *repoPG) ListForRecord(ctx context.Context, ref record.Ref) ([]*Signature, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+signatureCols+`
		FROM clinical_record_signature
		WHERE record_type = $1 AND record_id = $2
		ORDER BY signed_at ASC`, ref.Kind, ref.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sigs []*Signature
	for rows.Next() {
		var s Signature
		if err := rows.Scan(&s.ID, &s.ClinicID, &s.RecordType, &s.RecordID, &s.SignerType, &s.SignerName,
			&s.ContentHash, &s.ImageData, &s.ChallengeID, &s.OTPBypassed, &s.BypassReason, &s.SignedAt); err != nil {
			return nil, err
		}
		sigs = append(sigs, &s)
	}
	return sigs, rows.Err()
}
