// Package notify composes transactional emails and delivers them through a Sender
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/url"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
	"github.com/nkiryanov/gopherauth/internal/logger"
)

const (
	defaultAppName = "Gopherauth"
	defaultRetries = 3
	defaultBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second
)

type Message struct {
	To      string
	Subject string
	HTML    string
}

// Sender delivers one message
// Transient failures should be reported as *SendError with Temporary set
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

type SendError struct {
	// HTTP or SMTP reply code, zero if there was no reply
	StatusCode int
	Temporary  bool
	Err        error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send failed, status=%d temporary=%t: %v", e.StatusCode, e.Temporary, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

func isTemporary(err error) bool {
	var sendErr *SendError
	if errors.As(err, &sendErr) {
		return sendErr.Temporary
	}
	return false
}

var verificationTmpl = template.Must(template.New("verification").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
  <h2>Verify your email</h2>
  <p>Use the one-time code below to verify your {{.App}} account.</p>
  <p style="font-size: 32px; font-weight: bold; letter-spacing: 8px;">{{.Code}}</p>
  <p>This code expires in {{.Minutes}} minutes.</p>
  {{- if .Link}}
  <p>You can also verify by opening this link: <a href="{{.Link}}">{{.Link}}</a></p>
  {{- end}}
  <p style="color: #a0aec0; font-size: 12px;">Never share this code. If you didn't request it, ignore this email.</p>
</body>
</html>
`))

var passwordChangedTmpl = template.Must(template.New("password-changed").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
  <h2>Password changed</h2>
  <p>Your {{.App}} password was changed.</p>
  <p style="color: #dc2626;">If you didn't make this change, contact support immediately.</p>
</body>
</html>
`))

type Config struct {
	// Base of links in emails, verification link is <FrontendURL>/verify-email?token=<code>
	// No link is rendered if empty
	FrontendURL string

	// Shown to the user, doesn't control expiry
	CodeTTL time.Duration

	// Product name in subjects and bodies
	AppName string

	// Retries of transient failures and first backoff. Defaults are used if zero
	Retries uint64
	Backoff time.Duration
}

type Notifier struct {
	sender Sender
	logger logger.Logger

	frontendURL string
	codeTTL     time.Duration
	appName     string
	retries     uint64
	backoff     time.Duration
}

func New(cfg Config, sender Sender, l logger.Logger) (*Notifier, error) {
	if sender == nil {
		return nil, errors.New("sender must not be nil")
	}
	if cfg.FrontendURL != "" {
		if _, err := url.ParseRequestURI(cfg.FrontendURL); err != nil {
			return nil, fmt.Errorf("frontend url is not valid. Err: %w", err)
		}
	}
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	if cfg.AppName == "" {
		cfg.AppName = defaultAppName
	}
	if cfg.Retries == 0 {
		cfg.Retries = defaultRetries
	}
	if cfg.Backoff == 0 {
		cfg.Backoff = defaultBackoff
	}

	return &Notifier{
		sender:      sender,
		logger:      l.With("component", "notify"),
		frontendURL: cfg.FrontendURL,
		codeTTL:     cfg.CodeTTL,
		appName:     cfg.AppName,
		retries:     cfg.Retries,
		backoff:     cfg.Backoff,
	}, nil
}

func (n *Notifier) SendVerificationCode(ctx context.Context, email string, code string) error {
	data := struct {
		App     string
		Code    string
		Minutes int
		Link    string
	}{
		App:     n.appName,
		Code:    code,
		Minutes: int(n.codeTTL.Round(time.Minute) / time.Minute),
	}
	if n.frontendURL != "" {
		data.Link = n.frontendURL + "/verify-email?token=" + url.QueryEscape(code)
	}

	var body bytes.Buffer
	if err := verificationTmpl.Execute(&body, data); err != nil {
		return fmt.Errorf("%w: render verification email. Err: %w", apperrors.ErrNotificationFailed, err)
	}

	return n.deliver(ctx, Message{
		To:      email,
		Subject: "Verify your " + n.appName + " account",
		HTML:    body.String(),
	})
}

func (n *Notifier) SendPasswordChanged(ctx context.Context, email string) error {
	var body bytes.Buffer
	if err := passwordChangedTmpl.Execute(&body, struct{ App string }{n.appName}); err != nil {
		return fmt.Errorf("%w: render password changed email. Err: %w", apperrors.ErrNotificationFailed, err)
	}

	return n.deliver(ctx, Message{
		To:      email,
		Subject: n.appName + " password changed",
		HTML:    body.String(),
	})
}

// Transient failures are retried with exponential backoff, the rest fail at once
func (n *Notifier) deliver(ctx context.Context, msg Message) error {
	backoff := retry.WithMaxRetries(n.retries, retry.WithCappedDuration(maxBackoff, retry.NewExponential(n.backoff)))

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := n.sender.Send(ctx, msg)
		if err != nil && isTemporary(err) {
			n.logger.Warn("email delivery failed, will retry", "to", msg.To, "subject", msg.Subject, "attempt", attempt, "error", err.Error())
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		n.logger.Error("email delivery failed", "to", msg.To, "subject", msg.Subject, "attempts", attempt, "error", err.Error())
		return fmt.Errorf("%w: %w", apperrors.ErrNotificationFailed, err)
	}

	n.logger.Info("email sent", "to", msg.To, "subject", msg.Subject)
	return nil
}
