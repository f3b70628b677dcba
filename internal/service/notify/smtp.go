package notify

import (
	"context"
	"errors"
	"net/textproto"

	"gopkg.in/gomail.v2"
)

type SMTPConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	FromEmail string
	FromName  string
}

type SMTPSender struct {
	dialer    *gomail.Dialer
	fromEmail string
	fromName  string
}

func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if cfg.Host == "" || cfg.Port == 0 || cfg.FromEmail == "" {
		return nil, errors.New("smtp host, port and sender email must be set")
	}

	return &SMTPSender{
		dialer:    gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
	}, nil
}

func (s *SMTPSender) message(msg Message) *gomail.Message {
	m := gomail.NewMessage()
	m.SetAddressHeader("From", s.fromEmail, s.fromName)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/html", msg.HTML)

	return m
}

// gomail can't be cancelled, so Send stops waiting on ctx and lets dial finish in background
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	m := s.message(msg)

	done := make(chan error, 1)
	go func() {
		done <- s.dialer.DialAndSend(m)
	}()

	select {
	case err := <-done:
		return smtpError(err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// 5xx replies are permanent, everything else (4xx, network) may pass later
func smtpError(err error) error {
	if err == nil {
		return nil
	}

	var reply *textproto.Error
	if errors.As(err, &reply) {
		return &SendError{StatusCode: reply.Code, Temporary: reply.Code < 500, Err: err}
	}

	return &SendError{Temporary: true, Err: err}
}
