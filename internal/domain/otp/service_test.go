package otp

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/odontoflow/esign/internal/domain/record"
	"github.com/odontoflow/esign/internal/platform/notification"
)

type mockRepo struct {
	mu         sync.Mutex
	challenges map[uuid.UUID]*Challenge
}

func newMockRepo() *mockRepo {
	return &mockRepo{challenges: make(map[uuid.UUID]*Challenge)}
}

func (m *mockRepo) Create(ctx context.Context, c *Challenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.challenges[c.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(ctx context.Context, id uuid.UUID) (*Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.challenges[id]
	if !ok {
		return nil, ErrChallengeNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *mockRepo) SupersedeActive(ctx context.Context, patientID uuid.UUID, ref record.Ref) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.challenges {
		if c.PatientID == patientID && c.RecordType == ref.Kind && c.RecordID == ref.ID &&
			!c.Consumed && !c.Superseded && time.Now().Before(c.ExpiresAt) {
			c.Superseded = true
			n++
		}
	}
	return n, nil
}

func (m *mockRepo) Consume(ctx context.Context, id uuid.UUID, codeHash string) (*Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.challenges[id]
	if !ok || c.CodeHash != codeHash || c.Consumed || c.Superseded ||
		!time.Now().Before(c.ExpiresAt) || c.AttemptsLeft <= 0 {
		return nil, ErrChallengeNotFound
	}
	now := time.Now().UTC()
	c.Consumed = true
	c.ConsumedAt = &now
	cp := *c
	return &cp, nil
}

func (m *mockRepo) DecrementAttempts(ctx context.Context, id uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.challenges[id]
	if !ok || c.AttemptsLeft <= 0 || c.Consumed || c.Superseded {
		return 0, ErrChallengeNotFound
	}
	c.AttemptsLeft--
	return c.AttemptsLeft, nil
}

type mockSource struct {
	records map[record.Ref]*record.Record
}

func (m *mockSource) Get(ctx context.Context, ref record.Ref) (*record.Record, error) {
	r, ok := m.records[ref]
	if !ok {
		return nil, record.ErrNotFound
	}
	return r, nil
}

type mockContacts struct {
	contacts map[uuid.UUID]*Contact
}

func (m *mockContacts) Get(ctx context.Context, patientID uuid.UUID) (*Contact, error) {
	c, ok := m.contacts[patientID]
	if !ok {
		return nil, record.ErrNotFound
	}
	return c, nil
}

type chanEmailSender struct{ sent chan string }

func (s *chanEmailSender) SendEmail(ctx context.Context, to, subject, body string) error {
	s.sent <- to + "|" + body
	return nil
}

type fixture struct {
	svc      *Service
	repo     *mockRepo
	source   *mockSource
	contacts *mockContacts
	email    *chanEmailSender

	clinicID  uuid.UUID
	patientID uuid.UUID
	ref       record.Ref
}

func newFixture(t *testing.T, opts ...ServiceOption) *fixture {
	t.Helper()
	f := &fixture{
		repo:      newMockRepo(),
		source:    &mockSource{records: make(map[record.Ref]*record.Record)},
		contacts:  &mockContacts{contacts: make(map[uuid.UUID]*Contact)},
		email:     &chanEmailSender{sent: make(chan string, 10)},
		clinicID:  uuid.New(),
		patientID: uuid.New(),
	}
	f.ref = record.Ref{Kind: record.KindAnamnesis, ID: uuid.New()}
	f.source.records[f.ref] = &record.Record{
		Ref:       f.ref,
		ClinicID:  f.clinicID,
		PatientID: f.patientID,
		Snapshot:  record.Snapshot{"template_name": "Adult anamnesis"},
	}
	f.contacts.contacts[f.patientID] = &Contact{
		PatientID: f.patientID,
		Name:      "Maria Souza",
		Email:     "maria@example.com",
	}

	notifier := notification.NewManager(f.email, nil, notification.NewTemplateEngine(), zerolog.Nop())
	f.svc = NewService(f.repo, f.source, f.contacts, notifier, zerolog.Nop(), opts...)
	return f
}

func (f *fixture) waitEmail(t *testing.T) string {
	t.Helper()
	select {
	case msg := <-f.email.sent:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no email delivered")
		return ""
	}
}

func TestSend_IssuesChallenge(t *testing.T) {
	f := newFixture(t)
	result, err := f.svc.Send(context.Background(), f.clinicID, f.patientID, f.ref)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if result.NoEmail {
		t.Fatal("unexpected no-email result")
	}
	if result.Challenge.AttemptsLeft != DefaultMaxAttempts {
		t.Errorf("expected %d attempts, got %d", DefaultMaxAttempts, result.Challenge.AttemptsLeft)
	}
	if result.EmailMasked == "" || strings.Contains(result.EmailMasked, "maria@example.com") {
		t.Errorf("bad masked email: %q", result.EmailMasked)
	}

	msg := f.waitEmail(t)
	if !strings.HasPrefix(msg, "maria@example.com|") {
		t.Errorf("code sent to wrong address: %q", msg)
	}

	stored, err := f.repo.GetByID(context.Background(), result.Challenge.ID)
	if err != nil {
		t.Fatalf("challenge not persisted: %v", err)
	}
	if stored.CodeHash == "" || len(stored.CodeHash) != 64 {
		t.Error("code stored without hashing")
	}
}

func TestSend_MinorRoutesToGuardian(t *testing.T) {
	f := newFixture(t)
	f.contacts.contacts[f.patientID] = &Contact{
		PatientID:     f.patientID,
		Name:          "Joãozinho",
		Email:         "kid@example.com",
		IsMinor:       true,
		GuardianName:  "Ana Souza",
		GuardianEmail: "ana@example.com",
	}

	result, err := f.svc.Send(context.Background(), f.clinicID, f.patientID, f.ref)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !result.IsMinor {
		t.Error("expected is_minor result")
	}

	msg := f.waitEmail(t)
	if !strings.HasPrefix(msg, "ana@example.com|") {
		t.Errorf("code should go to guardian, went to: %q", msg)
	}
	if !strings.Contains(msg, "guardian") {
		t.Errorf("guardian template not used: %q", msg)
	}
}

func TestSend_NoEmail(t *testing.T) {
	f := newFixture(t)
	f.contacts.contacts[f.patientID] = &Contact{PatientID: f.patientID, Name: "Maria"}

	result, err := f.svc.Send(context.Background(), f.clinicID, f.patientID, f.ref)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !result.NoEmail {
		t.Fatal("expected no-email result")
	}
	if result.Message == "" {
		t.Error("expected guidance message")
	}
	if len(f.repo.challenges) != 0 {
		t.Error("no challenge should be created without an email")
	}
}

func TestSend_RecordOwnershipChecked(t *testing.T) {
	f := newFixture(t)

	if _, err := f.svc.Send(context.Background(), uuid.New(), f.patientID, f.ref); err != record.ErrNotFound {
		t.Errorf("foreign clinic should get not-found, got %v", err)
	}
	if _, err := f.svc.Send(context.Background(), f.clinicID, uuid.New(), f.ref); err != record.ErrNotFound {
		t.Errorf("foreign patient should get not-found, got %v", err)
	}
	badRef := record.Ref{Kind: record.KindExam, ID: uuid.New()}
	if _, err := f.svc.Send(context.Background(), f.clinicID, f.patientID, badRef); err != record.ErrNotFound {
		t.Errorf("missing record should get not-found, got %v", err)
	}
}

func TestSend_InvalidKind(t *testing.T) {
	f := newFixture(t)
	ref := record.Ref{Kind: "prescription", ID: uuid.New()}
	if _, err := f.svc.Send(context.Background(), f.clinicID, f.patientID, ref); err != record.ErrInvalidKind {
		t.Errorf("expected ErrInvalidKind, got %v", err)
	}
}

func TestSend_SupersedesPrevious(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Send(ctx, f.clinicID, f.patientID, f.ref)
	if err != nil {
		t.Fatalf("first send: %v", err)
	}
	f.waitEmail(t)
	second, err := f.svc.Send(ctx, f.clinicID, f.patientID, f.ref)
	if err != nil {
		t.Fatalf("second send: %v", err)
	}
	f.waitEmail(t)

	old, _ := f.repo.GetByID(ctx, first.Challenge.ID)
	if !old.Superseded {
		t.Error("first challenge should be superseded")
	}
	fresh, _ := f.repo.GetByID(ctx, second.Challenge.ID)
	if fresh.Superseded {
		t.Error("second challenge should be active")
	}

	// A superseded code reads as expired even before its TTL.
	_, err = f.svc.Verify(ctx, first.Challenge.ID, "000000")
	if err != ErrChallengeExpired {
		t.Errorf("superseded challenge should verify as expired, got %v", err)
	}
}

// issue creates a challenge directly in the repo with a known code.
func (f *fixture) issue(t *testing.T, code string, mutate func(*Challenge)) uuid.UUID {
	t.Helper()
	now := time.Now().UTC()
	c := &Challenge{
		ID:           uuid.New(),
		ClinicID:     f.clinicID,
		PatientID:    f.patientID,
		RecordType:   f.ref.Kind,
		RecordID:     f.ref.ID,
		EmailMasked:  "m•••a@e•••e.com",
		CodeHash:     HashCode(code),
		ExpiresAt:    now.Add(DefaultTTL),
		AttemptsLeft: DefaultMaxAttempts,
		CreatedAt:    now,
	}
	if mutate != nil {
		mutate(c)
	}
	if err := f.repo.Create(context.Background(), c); err != nil {
		t.Fatalf("seed challenge: %v", err)
	}
	return c.ID
}

func TestVerify_CorrectCode(t *testing.T) {
	f := newFixture(t)
	id := f.issue(t, "482910", nil)

	result, err := f.svc.Verify(context.Background(), id, "482910")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !result.Verified {
		t.Error("expected verified")
	}

	stored, _ := f.repo.GetByID(context.Background(), id)
	if !stored.Consumed || stored.ConsumedAt == nil {
		t.Error("challenge should be consumed")
	}
}

func TestVerify_WrongCodeBurnsAttempt(t *testing.T) {
	f := newFixture(t)
	id := f.issue(t, "482910", nil)

	result, err := f.svc.Verify(context.Background(), id, "000000")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.Verified {
		t.Error("wrong code must not verify")
	}
	if result.AttemptsLeft != DefaultMaxAttempts-1 {
		t.Errorf("expected %d attempts left, got %d", DefaultMaxAttempts-1, result.AttemptsLeft)
	}

	// Correct code still works afterwards.
	result, err = f.svc.Verify(context.Background(), id, "482910")
	if err != nil || !result.Verified {
		t.Fatalf("correct code after wrong one: verified=%v err=%v", result != nil && result.Verified, err)
	}
}

func TestVerify_AttemptsExhausted(t *testing.T) {
	f := newFixture(t)
	id := f.issue(t, "482910", nil)
	ctx := context.Background()

	for i := 0; i < DefaultMaxAttempts; i++ {
		result, err := f.svc.Verify(ctx, id, "999999")
		if err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
		if result.Verified {
			t.Fatal("wrong code verified")
		}
	}

	// Even the right code is dead once attempts hit zero.
	if _, err := f.svc.Verify(ctx, id, "482910"); err != ErrAttemptsExhausted {
		t.Errorf("expected ErrAttemptsExhausted, got %v", err)
	}
}

func TestVerify_Expired(t *testing.T) {
	f := newFixture(t)
	id := f.issue(t, "482910", func(c *Challenge) {
		c.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	})
	if _, err := f.svc.Verify(context.Background(), id, "482910"); err != ErrChallengeExpired {
		t.Errorf("expected ErrChallengeExpired, got %v", err)
	}
}

func TestVerify_AlreadyConsumed(t *testing.T) {
	f := newFixture(t)
	id := f.issue(t, "482910", nil)
	ctx := context.Background()

	if _, err := f.svc.Verify(ctx, id, "482910"); err != nil {
		t.Fatalf("first verify: %v", err)
	}
	if _, err := f.svc.Verify(ctx, id, "482910"); err != ErrChallengeConsumed {
		t.Errorf("expected ErrChallengeConsumed, got %v", err)
	}
}

func TestVerify_UnknownChallenge(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Verify(context.Background(), uuid.New(), "123456"); err != ErrChallengeNotFound {
		t.Errorf("expected ErrChallengeNotFound, got %v", err)
	}
}

func TestService_ConfigurableTTLAndAttempts(t *testing.T) {
	f := newFixture(t, WithTTL(3*time.Minute), WithMaxAttempts(2))
	result, err := f.svc.Send(context.Background(), f.clinicID, f.patientID, f.ref)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	f.waitEmail(t)

	if result.Challenge.AttemptsLeft != 2 {
		t.Errorf("expected 2 attempts, got %d", result.Challenge.AttemptsLeft)
	}
	ttl := time.Until(result.Challenge.ExpiresAt)
	if ttl > 3*time.Minute || ttl < 2*time.Minute {
		t.Errorf("unexpected TTL: %v", ttl)
	}
}
