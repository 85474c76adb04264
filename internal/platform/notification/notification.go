// Package notification delivers OTP codes and signing-portal links over
// email or SMS. Delivery is best-effort: callers treat failures as warnings,
// never as request failures.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Type is the channel used to deliver a notification.
type Type string

const (
	TypeEmail Type = "email"
	TypeSMS   Type = "sms"
)

// Notification is a single outbound message.
type Notification struct {
	ID         string            `json:"id"`
	Type       Type              `json:"type"`
	Recipient  string            `json:"recipient"`
	Subject    string            `json:"subject,omitempty"`
	Body       string            `json:"body"`
	TemplateID string            `json:"template_id,omitempty"`
	Data       map[string]string `json:"data,omitempty"`
	Status     string            `json:"status"`
	CreatedAt  time.Time         `json:"created_at"`
	SentAt     *time.Time        `json:"sent_at,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// EmailSender sends email messages.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// SMSSender sends SMS messages.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// Template is a reusable notification template with {{key}} placeholders.
type Template struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Type    Type   `json:"type"`
}

// TemplateIDs of the built-in templates.
const (
	TemplateOTPCode         = "otp-code"
	TemplateOTPCodeGuardian = "otp-code-guardian"
	TemplateBatchPortalLink = "batch-portal-link"
)

// TemplateEngine manages notification templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates
// pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]*Template)}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:      TemplateOTPCode,
			Name:    "Signature verification code",
			Subject: "Your verification code",
			Body:    "Hello {{patient_name}}, your code to sign your clinical record is {{code}}. It expires at {{expires_at}}.",
			Type:    TypeEmail,
		},
		{
			ID:      TemplateOTPCodeGuardian,
			Name:    "Signature verification code (guardian)",
			Subject: "Verification code for {{patient_name}}'s record",
			Body:    "Hello, as the legal guardian of {{patient_name}}, use code {{code}} to authorize the record signature. It expires at {{expires_at}}.",
			Type:    TypeEmail,
		},
		{
			ID:      TemplateBatchPortalLink,
			Name:    "Batch signing link",
			Subject: "Documents awaiting your signature",
			Body:    "There are {{record_count}} clinical records awaiting signature. Sign them here: {{signing_url}}",
			Type:    TypeEmail,
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

// RegisterTemplate adds or replaces a template.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render looks up a template by ID and replaces {{key}} placeholders with the
// supplied data. Placeholders absent from data are left as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	subject = t.Subject
	body = t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}

func (e *TemplateEngine) templateType(templateID string) Type {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if t, ok := e.templates[templateID]; ok {
		return t.Type
	}
	return TypeEmail
}

// Manager orchestrates rendering, sending and recording of notifications.
type Manager struct {
	email  EmailSender
	sms    SMSSender
	tpl    *TemplateEngine
	logger zerolog.Logger

	mu   sync.RWMutex
	sent map[string]*Notification
}

func NewManager(email EmailSender, sms SMSSender, tpl *TemplateEngine, logger zerolog.Logger) *Manager {
	return &Manager{
		email:  email,
		sms:    sms,
		tpl:    tpl,
		logger: logger,
		sent:   make(map[string]*Notification),
	}
}

// Send dispatches a notification through its channel and records the outcome.
func (m *Manager) Send(ctx context.Context, n *Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	n.CreatedAt = time.Now().UTC()
	n.Status = "pending"

	var sendErr error
	switch n.Type {
	case TypeEmail:
		if m.email == nil {
			sendErr = errors.New("no email sender configured")
		} else {
			sendErr = m.email.SendEmail(ctx, n.Recipient, n.Subject, n.Body)
		}
	case TypeSMS:
		if m.sms == nil {
			sendErr = errors.New("no sms sender configured")
		} else {
			sendErr = m.sms.SendSMS(ctx, n.Recipient, n.Body)
		}
	default:
		sendErr = fmt.Errorf("unsupported notification type: %s", n.Type)
	}

	if sendErr != nil {
		n.Status = "failed"
		n.Error = sendErr.Error()
		m.logger.Warn().Err(sendErr).Str("template", n.TemplateID).Msg("notification delivery failed")
	} else {
		n.Status = "sent"
		sentAt := time.Now().UTC()
		n.SentAt = &sentAt
	}

	m.mu.Lock()
	m.sent[n.ID] = n
	m.mu.Unlock()

	return sendErr
}

// SendFromTemplate renders a template and sends the result.
func (m *Manager) SendFromTemplate(ctx context.Context, templateID string, data map[string]string, recipient string) (*Notification, error) {
	subject, body, err := m.tpl.Render(templateID, data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	n := &Notification{
		Type:       m.tpl.templateType(templateID),
		Recipient:  recipient,
		Subject:    subject,
		Body:       body,
		TemplateID: templateID,
		Data:       data,
	}
	if err := m.Send(ctx, n); err != nil {
		return n, err
	}
	return n, nil
}

// Get retrieves a recorded notification by ID.
func (m *Manager) Get(id string) (*Notification, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.sent[id]
	return n, ok
}

// ListByRecipient returns recorded notifications for a recipient.
func (m *Manager) ListByRecipient(recipient string) []*Notification {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Notification
	for _, n := range m.sent {
		if n.Recipient == recipient {
			result = append(result, n)
		}
	}
	return result
}
