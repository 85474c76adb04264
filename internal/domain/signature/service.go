package signature

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/odontoflow/esign/internal/domain/record"
)

// Service applies signatures to clinical records and reads back their
// signing state.
type Service struct {
	repo       Repository
	records    record.Source
	challenges ChallengeReader
	logger     zerolog.Logger
}

func NewService(repo Repository, records record.Source, challenges ChallengeReader, logger zerolog.Logger) *Service {
	return &Service{repo: repo, records: records, challenges: challenges, logger: logger}
}

// SignInput carries everything needed to apply one signature.
type SignInput struct {
	Ref          record.Ref
	SignerType   SignerType
	SignerName   string
	ImageData    string
	ChallengeID  *uuid.UUID
	OTPBypassed  bool
	BypassReason string
}

// Sign records a signature over a clinical record. The content hash is always
// computed server-side from the record's current state; anything the client
// sends for it is ignored. Patient signatures require either a consumed OTP
// challenge bound to the same patient and record, or the explicit in-person
// bypass.
func (s *Service) Sign(ctx context.Context, clinicID uuid.UUID, in SignInput) (*Signature, error) {
	if !in.Ref.Kind.Valid() {
		return nil, record.ErrInvalidKind
	}
	if _, err := ParseSignerType(string(in.SignerType)); err != nil {
		return nil, err
	}

	rec, err := s.records.Get(ctx, in.Ref)
	if err != nil {
		return nil, err
	}
	if rec.ClinicID != clinicID {
		return nil, record.ErrNotFound
	}

	if in.SignerType == SignerPatient && !in.OTPBypassed {
		if err := s.checkChallenge(ctx, rec, in.ChallengeID); err != nil {
			return nil, err
		}
	}

	hash, err := record.Fingerprint(in.Ref.Kind, rec.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("fingerprint record: %w", err)
	}

	sig := &Signature{
		ID:           uuid.New(),
		ClinicID:     clinicID,
		RecordType:   in.Ref.Kind,
		RecordID:     in.Ref.ID,
		SignerType:   in.SignerType,
		SignerName:   in.SignerName,
		ContentHash:  hash,
		ImageData:    in.ImageData,
		ChallengeID:  in.ChallengeID,
		OTPBypassed:  in.OTPBypassed,
		BypassReason: in.BypassReason,
		SignedAt:     time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, sig); err != nil {
		return nil, err
	}

	sig.ContentHashVerified = true
	s.logger.Info().
		Str("record_type", string(sig.RecordType)).
		Str("record_id", sig.RecordID.String()).
		Str("signer_type", string(sig.SignerType)).
		Bool("otp_bypassed", sig.OTPBypassed).
		Msg("signature recorded")
	return sig, nil
}

func (s *Service) checkChallenge(ctx context.Context, rec *record.Record, challengeID *uuid.UUID) error {
	if challengeID == nil {
		return ErrMissingVerification
	}
	c, err := s.challenges.GetByID(ctx, *challengeID)
	if err != nil {
		return ErrMissingVerification
	}
	if !c.Consumed {
		return ErrMissingVerification
	}
	if c.PatientID != rec.PatientID || c.RecordType != rec.Ref.Kind || c.RecordID != rec.Ref.ID {
		return ErrMissingVerification
	}
	return nil
}

// GetForRecord returns the record's signature of one signer type with
// ContentHashVerified computed against the record's current fingerprint.
// Returns ErrSignatureNotFound when the record has no such signature.
func (s *Service) GetForRecord(ctx context.Context, clinicID uuid.UUID, ref record.Ref, signer SignerType) (*Signature, error) {
	if !ref.Kind.Valid() {
		return nil, record.ErrInvalidKind
	}
	if _, err := ParseSignerType(string(signer)); err != nil {
		return nil, err
	}

	rec, err := s.records.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	if rec.ClinicID != clinicID {
		return nil, record.ErrNotFound
	}

	sig, err := s.repo.GetForRecord(ctx, ref, signer)
	if err != nil {
		return nil, err
	}

	current, err := record.Fingerprint(ref.Kind, rec.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("fingerprint record: %w", err)
	}
	sig.ContentHashVerified = sig.ContentHash == current
	return sig, nil
}

// RecordSignatures is the signing state of one record: its signatures in
// signing order plus the derived status.
type RecordSignatures struct {
	Signatures []*Signature `json:"signatures"`
	Status     Status       `json:"status"`
}

// ListForRecord returns a record's signatures with ContentHashVerified
// computed against the record's current fingerprint, so edits made after
// signing surface immediately.
func (s *Service) ListForRecord(ctx context.Context, clinicID uuid.UUID, ref record.Ref) (*RecordSignatures, error) {
	if !ref.Kind.Valid() {
		return nil, record.ErrInvalidKind
	}

	rec, err := s.records.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	if rec.ClinicID != clinicID {
		return nil, record.ErrNotFound
	}

	current, err := record.Fingerprint(ref.Kind, rec.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("fingerprint record: %w", err)
	}

	sigs, err := s.repo.ListForRecord(ctx, ref)
	if err != nil {
		return nil, err
	}
	for _, sig := range sigs {
		sig.ContentHashVerified = sig.ContentHash == current
	}

	return &RecordSignatures{
		Signatures: sigs,
		Status:     ResolveStatus(sigs),
	}, nil
}
