package notification

import (
	"context"

	"github.com/rs/zerolog"
)

// LogEmailSender writes outbound email to the log instead of delivering it.
// Default sender in development.
type LogEmailSender struct {
	Logger zerolog.Logger
}

func (s *LogEmailSender) SendEmail(ctx context.Context, to, subject, body string) error {
	s.Logger.Info().
		Str("to", to).
		Str("subject", subject).
		Str("body", body).
		Msg("email (log sender)")
	return nil
}

// LogSMSSender writes outbound SMS to the log instead of delivering it.
type LogSMSSender struct {
	Logger zerolog.Logger
}

func (s *LogSMSSender) SendSMS(ctx context.Context, to, body string) error {
	s.Logger.Info().
		Str("to", to).
		Str("body", body).
		Msg("sms (log sender)")
	return nil
}
