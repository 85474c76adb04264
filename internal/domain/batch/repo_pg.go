package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

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

// NewRepositoryPG returns a Repository backed by the signature_batch tables.
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

func (r *repoPG) Create(ctx context.Context, clinicID uuid.UUID, createdBy string, refs []record.Ref) (*Batch, error) {
	var batch *Batch
	err := db.RunInTx(ctx, r.pool, func(ctx context.Context) error {
		q := r.conn(ctx)

		// Seed the counter row on first use; the UPDATE then takes a row lock,
		// serializing concurrent allocations for the same clinic.
		if _, err := q.Exec(ctx, `
			INSERT INTO signature_batch_counter (clinic_id, last_number)
			VALUES ($1, 0)
			ON CONFLICT (clinic_id) DO NOTHING`, clinicID); err != nil {
			return fmt.Errorf("seed batch counter: %w", err)
		}

		var number int64
		if err := q.QueryRow(ctx, `
			UPDATE signature_batch_counter
			SET last_number = last_number + 1
			WHERE clinic_id = $1
			RETURNING last_number`, clinicID).Scan(&number); err != nil {
			return fmt.Errorf("allocate batch number: %w", err)
		}

		b := &Batch{
			ID:          uuid.New(),
			ClinicID:    clinicID,
			BatchNumber: number,
			CreatedBy:   createdBy,
			CreatedAt:   time.Now().UTC(),
		}
		if _, err := q.Exec(ctx, `
			INSERT INTO signature_batch (id, clinic_id, batch_number, created_by, created_at)
			VALUES ($1, $2, $3, $4, $5)`,
			b.ID, b.ClinicID, b.BatchNumber, b.CreatedBy, b.CreatedAt); err != nil {
			return fmt.Errorf("insert batch: %w", err)
		}

		for i, ref := range refs {
			m := &Member{BatchID: b.ID, RecordType: ref.Kind, RecordID: ref.ID, Position: i}
			if _, err := q.Exec(ctx, `
				INSERT INTO signature_batch_member (batch_id, record_type, record_id, position)
				VALUES ($1, $2, $3, $4)`,
				m.BatchID, m.RecordType, m.RecordID, m.Position); err != nil {
				return fmt.Errorf("insert batch member: %w", err)
			}
			b.Members = append(b.Members, m)
		}
		b.RecordCount = len(b.Members)

		batch = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}

func (r *repoPG) GetByID(ctx context.Context, clinicID, id uuid.UUID) (*Batch, error) {
	var b Batch
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, clinic_id, batch_number, created_by, created_at
		FROM signature_batch
		WHERE id = $1 AND clinic_id = $2`, id, clinicID).
		Scan(&b.ID, &b.ClinicID, &b.BatchNumber, &b.CreatedBy, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBatchNotFound
		}
		return nil, err
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT batch_id, record_type, record_id, position
		FROM signature_batch_member
		WHERE batch_id = $1
		ORDER BY position ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.BatchID, &m.RecordType, &m.RecordID, &m.Position); err != nil {
			return nil, err
		}
		b.Members = append(b.Members, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	b.RecordCount = len(b.Members)
	return &b, nil
}

func (r *repoPG) ListByClinic(ctx context.Context, clinicID uuid.UUID, limit, offset int) ([]*Batch, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM signature_batch WHERE clinic_id = $1`, clinicID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count batches: %w", err)
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT b.id, b.clinic_id, b.batch_number, b.created_by, b.created_at,
		       (SELECT COUNT(*) FROM signature_batch_member m WHERE m.batch_id = b.id)
		FROM signature_batch b
		WHERE b.clinic_id = $1
		ORDER BY b.batch_number DESC
		LIMIT $2 OFFSET $3`, clinicID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var batches []*Batch
	for rows.Next() {
		var b Batch
		if err := rows.Scan(&b.ID, &b.ClinicID, &b.BatchNumber, &b.CreatedBy, &b.CreatedAt, &b.RecordCount); err != nil {
			return nil, 0, err
		}
		batches = append(batches, &b)
	}
	return batches, total, rows.Err()
}
