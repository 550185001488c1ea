package secondfactor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/gomail.v2"
)

// Recipients resolves a user's email address.
type Recipients interface {
	Email(ctx context.Context, userID string) (string, error)
}

type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// MailSender delivers codes over SMTP.
type MailSender struct {
	dialer     dialer
	from       string
	recipients Recipients
}

func NewMailSender(host string, port int, username, password, from string, recipients Recipients) *MailSender {
	return &MailSender{
		dialer:     gomail.NewDialer(host, port, username, password),
		from:       from,
		recipients: recipients,
	}
}

func (s *MailSender) Send(ctx context.Context, userID, code string, ttl time.Duration) error {
	to, err := s.recipients.Email(ctx, userID)
	if err != nil {
		return err
	}
	if to == "" {
		return ErrUnknownRecipient
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", s.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", "Your attendance verification code")
	msg.SetBody("text/plain", fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", code, int(ttl.Minutes())))
	return s.dialer.DialAndSend(msg)
}

// LogSender writes codes to the log. Development only.
type LogSender struct {
	log zerolog.Logger
}

func NewLogSender(log zerolog.Logger) *LogSender { return &LogSender{log: log} }

func (s *LogSender) Send(_ context.Context, userID, code string, ttl time.Duration) error {
	s.log.Info().Str("user_id", userID).Str("code", code).Dur("ttl", ttl).Msg("two-factor code")
	return nil
}
