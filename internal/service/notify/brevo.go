package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	DefaultBrevoURL     = "https://api.brevo.com/v3/smtp/email"
	defaultBrevoTimeout = 10 * time.Second
)

type BrevoConfig struct {
	APIKey    string
	URL       string
	FromEmail string
	FromName  string

	// Per request timeout. Default is used if zero
	Timeout time.Duration
}

// BrevoSender uses Brevo transactional email HTTP API
type BrevoSender struct {
	apiKey    string
	url       string
	fromEmail string
	fromName  string
	timeout   time.Duration

	client *http.Client
}

type brevoAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type brevoEmail struct {
	Sender      brevoAddress   `json:"sender"`
	To          []brevoAddress `json:"to"`
	Subject     string         `json:"subject"`
	HTMLContent string         `json:"htmlContent"`
}

func NewBrevoSender(cfg BrevoConfig, client *http.Client) (*BrevoSender, error) {
	if cfg.APIKey == "" || cfg.FromEmail == "" {
		return nil, errors.New("brevo api key and sender email must be set")
	}
	if cfg.URL == "" {
		cfg.URL = DefaultBrevoURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultBrevoTimeout
	}
	if client == nil {
		client = &http.Client{}
	}

	return &BrevoSender{
		apiKey:    cfg.APIKey,
		url:       cfg.URL,
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		timeout:   cfg.Timeout,
		client:    client,
	}, nil
}

func (s *BrevoSender) Send(ctx context.Context, msg Message) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	payload, err := json.Marshal(brevoEmail{
		Sender:      brevoAddress{Email: s.fromEmail, Name: s.fromName},
		To:          []brevoAddress{{Email: msg.To}},
		Subject:     msg.Subject,
		HTMLContent: msg.HTML,
	})
	if err != nil {
		return &SendError{Err: fmt.Errorf("failed to encode request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return &SendError{Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("api-key", s.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return &SendError{Temporary: true, Err: fmt.Errorf("failed to send request: %w", err)}
	}
	defer resp.Body.Close() // nolint:errcheck

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	// Short excerpt is enough to debug, body never contains our secrets
	excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 200))

	return &SendError{
		StatusCode: resp.StatusCode,
		Temporary:  resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
		Err:        fmt.Errorf("brevo responded %d: %s", resp.StatusCode, bytes.TrimSpace(excerpt)),
	}
}
