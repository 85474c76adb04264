package batch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/odontoflow/esign/internal/domain/otp"
	"github.com/odontoflow/esign/internal/domain/record"
	"github.com/odontoflow/esign/internal/platform/notification"
)

// portalLinker builds signing URLs under a fixed portal base, e.g.
// https://app.example.com/sign/<clinic>/<number>.
type portalLinker struct {
	baseURL string
}

// NewPortalLinker returns a PortalLinker rooted at baseURL.
func NewPortalLinker(baseURL string) PortalLinker {
	return &portalLinker{baseURL: strings.TrimRight(baseURL, "/")}
}

func (l *portalLinker) SigningURL(clinicID uuid.UUID, batchNumber int64) string {
	return fmt.Sprintf("%s/%s/%d", l.baseURL, clinicID, batchNumber)
}

// Service creates and reads signing batches.
type Service struct {
	repo     Repository
	records  record.Source
	linker   PortalLinker
	notifier *notification.Manager
	contacts otp.ContactDirectory
	logger   zerolog.Logger
}

func NewService(repo Repository, records record.Source, linker PortalLinker,
	notifier *notification.Manager, contacts otp.ContactDirectory, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		records:  records,
		linker:   linker,
		notifier: notifier,
		contacts: contacts,
		logger:   logger,
	}
}

// Create validates every referenced record against the acting clinic, then
// allocates the next batch number, stores the batch and sends the portal link
// to each patient involved.
func (s *Service) Create(ctx context.Context, clinicID uuid.UUID, createdBy string, refs []record.Ref) (*Batch, error) {
	if len(refs) == 0 {
		return nil, ErrEmptyBatch
	}

	seen := make(map[record.Ref]bool, len(refs))
	patients := make(map[uuid.UUID]bool)
	for _, ref := range refs {
		if !ref.Kind.Valid() {
			return nil, record.ErrInvalidKind
		}
		if seen[ref] {
			return nil, fmt.Errorf("duplicate record in batch: %s/%s", ref.Kind, ref.ID)
		}
		seen[ref] = true

		rec, err := s.records.Get(ctx, ref)
		if err != nil {
			if errors.Is(err, record.ErrNotFound) {
				return nil, ErrBatchRecordNotFound
			}
			return nil, err
		}
		if rec.ClinicID != clinicID {
			return nil, ErrBatchRecordNotFound
		}
		patients[rec.PatientID] = true
	}

	b, err := s.repo.Create(ctx, clinicID, createdBy, refs)
	if err != nil {
		return nil, err
	}
	b.SigningURL = s.linker.SigningURL(clinicID, b.BatchNumber)

	// Delivery must not block or fail the request; the portal link stays
	// reachable from the batch itself.
	go s.deliverPortalLink(b, patients)

	s.logger.Info().
		Int64("batch_number", b.BatchNumber).
		Int("record_count", b.RecordCount).
		Str("clinic_id", clinicID.String()).
		Msg("signing batch created")
	return b, nil
}

// deliverPortalLink emails the signing link to every distinct patient in the
// batch, routing to the guardian for minors. Patients without a deliverable
// address are skipped; they sign in person at the clinic.
func (s *Service) deliverPortalLink(b *Batch, patients map[uuid.UUID]bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	data := map[string]string{
		"record_count": strconv.Itoa(b.RecordCount),
		"signing_url":  b.SigningURL,
	}
	for patientID := range patients {
		contact, err := s.contacts.Get(ctx, patientID)
		if err != nil {
			s.logger.Warn().Err(err).
				Str("patient_id", patientID.String()).
				Int64("batch_number", b.BatchNumber).
				Msg("portal link contact lookup failed")
			continue
		}
		email := contact.Email
		if contact.IsMinor && contact.GuardianEmail != "" {
			email = contact.GuardianEmail
		}
		if email == "" {
			continue
		}
		if _, err := s.notifier.SendFromTemplate(ctx, notification.TemplateBatchPortalLink, data, email); err != nil {
			s.logger.Warn().Err(err).
				Str("patient_id", patientID.String()).
				Int64("batch_number", b.BatchNumber).
				Msg("portal link delivery failed")
		}
	}
}

// Get returns one batch with its members and signing URL.
func (s *Service) Get(ctx context.Context, clinicID, id uuid.UUID) (*Batch, error) {
	b, err := s.repo.GetByID(ctx, clinicID, id)
	if err != nil {
		return nil, err
	}
	b.SigningURL = s.linker.SigningURL(clinicID, b.BatchNumber)
	return b, nil
}

// List returns a clinic's batches, newest first.
func (s *Service) List(ctx context.Context, clinicID uuid.UUID, limit, offset int) ([]*Batch, int, error) {
	batches, total, err := s.repo.ListByClinic(ctx, clinicID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	for _, b := range batches {
		b.SigningURL = s.linker.SigningURL(clinicID, b.BatchNumber)
	}
	return batches, total, nil
}
