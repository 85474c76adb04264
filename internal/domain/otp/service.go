package otp

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/odontoflow/esign/internal/domain/record"
	"github.com/odontoflow/esign/internal/platform/notification"
)

// Service issues and verifies OTP challenges for patient record signing.
type Service struct {
	repo        Repository
	records     record.Source
	contacts    ContactDirectory
	notifier    *notification.Manager
	logger      zerolog.Logger
	ttl         time.Duration
	maxAttempts int
	now         func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithTTL overrides the challenge lifetime.
func WithTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithMaxAttempts overrides the wrong-code tolerance per challenge.
func WithMaxAttempts(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

func NewService(repo Repository, records record.Source, contacts ContactDirectory,
	notifier *notification.Manager, logger zerolog.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		repo:        repo,
		records:     records,
		contacts:    contacts,
		notifier:    notifier,
		logger:      logger,
		ttl:         DefaultTTL,
		maxAttempts: DefaultMaxAttempts,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SendResult is the outcome of issuing a challenge. When NoEmail is set no
// challenge was created because the patient has no deliverable address; the
// caller should offer the in-person bypass instead.
type SendResult struct {
	NoEmail     bool
	Message     string
	Challenge   *Challenge
	EmailMasked string
	IsMinor     bool
}

// Send issues a fresh challenge for (patient, record), superseding any active
// one, and dispatches the code asynchronously. For minors with a registered
// guardian the code is routed to the guardian's address.
func (s *Service) Send(ctx context.Context, clinicID, patientID uuid.UUID, ref record.Ref) (*SendResult, error) {
	if !ref.Kind.Valid() {
		return nil, record.ErrInvalidKind
	}

	rec, err := s.records.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	if rec.ClinicID != clinicID || rec.PatientID != patientID {
		return nil, record.ErrNotFound
	}

	contact, err := s.contacts.Get(ctx, patientID)
	if err != nil {
		return nil, err
	}

	email := contact.Email
	recipientName := contact.Name
	templateID := notification.TemplateOTPCode
	if contact.IsMinor && contact.GuardianEmail != "" {
		email = contact.GuardianEmail
		recipientName = contact.GuardianName
		templateID = notification.TemplateOTPCodeGuardian
	}
	if email == "" {
		return &SendResult{
			NoEmail: true,
			Message: "patient has no registered email; collect the signature in person with professional witness",
			IsMinor: contact.IsMinor,
		}, nil
	}

	code, err := GenerateCode()
	if err != nil {
		return nil, err
	}

	if _, err := s.repo.SupersedeActive(ctx, patientID, ref); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	challenge := &Challenge{
		ID:           uuid.New(),
		ClinicID:     clinicID,
		PatientID:    patientID,
		RecordType:   ref.Kind,
		RecordID:     ref.ID,
		EmailMasked:  MaskEmail(email),
		CodeHash:     HashCode(code),
		IsMinor:      contact.IsMinor,
		ExpiresAt:    now.Add(s.ttl),
		AttemptsLeft: s.maxAttempts,
		CreatedAt:    now,
	}
	if err := s.repo.Create(ctx, challenge); err != nil {
		return nil, fmt.Errorf("create otp challenge: %w", err)
	}

	// Delivery must not block or fail the request; a lost email is retried by
	// the clinic resending the code.
	go s.deliver(challenge, templateID, email, recipientName, code)

	return &SendResult{
		Challenge:   challenge,
		EmailMasked: challenge.EmailMasked,
		IsMinor:     contact.IsMinor,
	}, nil
}

func (s *Service) deliver(c *Challenge, templateID, email, patientName, code string) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	_, err := s.notifier.SendFromTemplate(ctx, templateID, map[string]string{
		"patient_name": patientName,
		"code":         code,
		"expires_at":   c.ExpiresAt.Local().Format("15:04"),
	}, email)
	if err != nil {
		s.logger.Warn().Err(err).
			Str("challenge_id", c.ID.String()).
			Str("record_type", string(c.RecordType)).
			Msg("otp delivery failed")
	}
}

// VerifyResult reports the outcome of a code check that did not error.
type VerifyResult struct {
	Verified     bool `json:"verified"`
	AttemptsLeft int  `json:"attempts_left"`
}

// Verify checks a code against a challenge. A wrong code burns one attempt
// and returns Verified=false; a dead challenge (expired, superseded, consumed
// or out of attempts) returns the matching sentinel error.
func (s *Service) Verify(ctx context.Context, challengeID uuid.UUID, code string) (*VerifyResult, error) {
	c, err := s.repo.GetByID(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	if err := classifyDead(c, s.now().UTC()); err != nil {
		return nil, err
	}

	if HashCode(code) != c.CodeHash {
		remaining, err := s.repo.DecrementAttempts(ctx, challengeID)
		if err != nil {
			// Lost the race against another verification; re-read to classify.
			c, rerr := s.repo.GetByID(ctx, challengeID)
			if rerr != nil {
				return nil, rerr
			}
			if derr := classifyDead(c, s.now().UTC()); derr != nil {
				return nil, derr
			}
			return nil, err
		}
		return &VerifyResult{Verified: false, AttemptsLeft: remaining}, nil
	}

	consumed, err := s.repo.Consume(ctx, challengeID, c.CodeHash)
	if err != nil {
		// The atomic predicate failed: some other request consumed, superseded
		// or expired the challenge between our read and this update.
		c, rerr := s.repo.GetByID(ctx, challengeID)
		if rerr != nil {
			return nil, rerr
		}
		if derr := classifyDead(c, s.now().UTC()); derr != nil {
			return nil, derr
		}
		return nil, err
	}

	return &VerifyResult{Verified: true, AttemptsLeft: consumed.AttemptsLeft}, nil
}

// classifyDead maps an unusable challenge to its sentinel error. Supersession
// reads as expiry to the caller: the old code simply no longer works.
func classifyDead(c *Challenge, now time.Time) error {
	switch {
	case c.Superseded:
		return ErrChallengeExpired
	case c.Consumed:
		return ErrChallengeConsumed
	case !now.Before(c.ExpiresAt):
		return ErrChallengeExpired
	case c.AttemptsLeft <= 0:
		return ErrAttemptsExhausted
	}
	return nil
}
