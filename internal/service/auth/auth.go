// Package auth orchestrates signup, email verification, login and session refresh
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
	"github.com/nkiryanov/gopherauth/internal/logger"
	"github.com/nkiryanov/gopherauth/internal/models"
	"github.com/nkiryanov/gopherauth/internal/repository"
	"github.com/nkiryanov/gopherauth/internal/service/account"
	"github.com/nkiryanov/gopherauth/internal/service/auth/sessions"
	"github.com/nkiryanov/gopherauth/internal/service/auth/tokencodec"
	"github.com/nkiryanov/gopherauth/internal/service/otp"
)

const (
	defaultStoreTimeout  = 5 * time.Second
	defaultNotifyTimeout = 10 * time.Second
)

type Notifier interface {
	SendVerificationCode(ctx context.Context, email string, code string) error
	SendPasswordChanged(ctx context.Context, email string) error
}

// Records outcome of every operation
type Recorder interface {
	ObserveOperation(op string, err error)
}

type nopRecorder struct{}

func (nopRecorder) ObserveOperation(string, error) {}

type Config struct {
	// Bound of a transaction. Default is used if zero
	StoreTimeout time.Duration

	// Bound of every notifier call. Default is used if zero
	NotifyTimeout time.Duration
}

// Service dependencies. Metrics and Logger are optional
type Deps struct {
	Storage  repository.Storage
	Accounts *account.Service
	Codes    *otp.Manager
	Codec    *tokencodec.Codec
	Sessions *sessions.Store
	Notifier Notifier
	Metrics  Recorder
	Logger   logger.Logger
}

type Service struct {
	storage  repository.Storage
	accounts *account.Service
	codes    *otp.Manager
	codec    *tokencodec.Codec
	sessions *sessions.Store
	notifier Notifier
	metrics  Recorder
	logger   logger.Logger

	storeTimeout  time.Duration
	notifyTimeout time.Duration

	now func() time.Time
}

func NewService(cfg Config, deps Deps) (*Service, error) {
	if deps.Storage == nil || deps.Accounts == nil || deps.Codes == nil || deps.Codec == nil || deps.Sessions == nil || deps.Notifier == nil {
		return nil, errors.New("storage, accounts, codes, codec, sessions and notifier must be set")
	}
	if deps.Metrics == nil {
		deps.Metrics = nopRecorder{}
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNoOpLogger()
	}

	setDefaultDuration := func(field *time.Duration, def time.Duration) {
		if *field <= 0 {
			*field = def
		}
	}
	setDefaultDuration(&cfg.StoreTimeout, defaultStoreTimeout)
	setDefaultDuration(&cfg.NotifyTimeout, defaultNotifyTimeout)

	return &Service{
		storage:       deps.Storage,
		accounts:      deps.Accounts,
		codes:         deps.Codes,
		codec:         deps.Codec,
		sessions:      deps.Sessions,
		notifier:      deps.Notifier,
		metrics:       deps.Metrics,
		logger:        deps.Logger.With("component", "auth"),
		storeTimeout:  cfg.StoreTimeout,
		notifyTimeout: cfg.NotifyTimeout,
		now:           time.Now,
	}, nil
}

// Signup creates not verified account and sends verification code
// If code can't be delivered account is still returned along with apperrors.ErrNotificationFailed
func (s *Service) Signup(ctx context.Context, email string, password string) (acc models.Account, err error) {
	defer func() { s.metrics.ObserveOperation("signup", err) }()

	acc, err = s.accounts.Register(ctx, email, password)
	if err != nil {
		return acc, err
	}
	s.logger.Info("account registered", "account_id", acc.ID)

	if err = s.sendVerification(ctx, acc); err != nil {
		return acc, err
	}

	return acc, nil
}

func (s *Service) sendVerification(ctx context.Context, acc models.Account) error {
	code, err := s.codes.Issue(ctx, acc.ID, acc.Email, models.PurposeEmailVerification, 0)
	if err != nil {
		s.logger.Error("can't issue verification code", "account_id", acc.ID, "error", err.Error())
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.notifyTimeout)
	defer cancel()

	if err := s.notifier.SendVerificationCode(ctx, acc.Email, code); err != nil {
		s.logger.Warn("verification code not delivered", "account_id", acc.ID, "error", err.Error())
		if !errors.Is(err, apperrors.ErrNotificationFailed) {
			err = fmt.Errorf("%w: %w", apperrors.ErrNotificationFailed, err)
		}
		return err
	}

	return nil
}

// VerifyEmail consumes code and marks its account verified
// Code stays used even if account is gone
func (s *Service) VerifyEmail(ctx context.Context, code string) (acc models.Account, err error) {
	defer func() { s.metrics.ObserveOperation("verify_email", err) }()

	rec, err := s.codes.Consume(ctx, code, models.PurposeEmailVerification)
	if err != nil {
		return acc, err
	}

	acc, err = s.accounts.MarkVerified(ctx, rec.AccountID, s.now())
	if err != nil {
		return acc, err
	}
	s.logger.Info("email verified", "account_id", acc.ID)

	return acc, nil
}

// ResendVerification reissues code for not verified account
// Unknown and verified emails succeed silently, so response doesn't tell them apart
func (s *Service) ResendVerification(ctx context.Context, email string) (err error) {
	defer func() { s.metrics.ObserveOperation("resend_verification", err) }()

	acc, err := s.accounts.FindByEmail(ctx, email)
	switch {
	case errors.Is(err, apperrors.ErrAccountNotFound):
		return nil
	case err != nil:
		return err
	case acc.EmailVerified:
		return nil
	}

	return s.sendVerification(ctx, acc)
}

// Login checks credentials and issues fresh session
// Missing account and wrong password are both apperrors.ErrInvalidCredentials
func (s *Service) Login(ctx context.Context, email string, password string) (session models.Session, err error) {
	defer func() { s.metrics.ObserveOperation("login", err) }()

	acc, err := s.accounts.Authenticate(ctx, email, password)
	if err != nil {
		return session, err
	}

	if !acc.EmailVerified {
		return session, apperrors.ErrEmailNotVerified
	}

	return s.issueSession(ctx, s.sessions, acc)
}

// Refresh exchanges refresh token for a new session. Token can be exchanged once
func (s *Service) Refresh(ctx context.Context, refreshToken string) (session models.Session, err error) {
	defer func() { s.metrics.ObserveOperation("refresh", err) }()

	claims, err := s.codec.DecodeAndValidate(refreshToken, tokencodec.TypeRefresh)
	if err != nil {
		return session, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	// Old token is removed and new one stored together, so failed issue keeps the old token
	err = s.storage.InTx(ctx, func(tx repository.Storage) error {
		store := s.sessions.WithRepo(tx.Refresh())

		stored, err := store.Rotate(ctx, refreshToken)
		if err != nil {
			return err
		}
		if stored.AccountID != claims.AccountID {
			return apperrors.ErrRefreshTokenNotFound
		}

		acc, err := s.accounts.Get(ctx, stored.AccountID)
		if err != nil {
			return err
		}
		if !acc.EmailVerified {
			return apperrors.ErrEmailNotVerified
		}

		session, err = s.issueSession(ctx, store, acc)
		return err
	})
	if err != nil {
		return models.Session{}, err
	}

	return session, nil
}

// Logout forgets refresh token. Issued access tokens stay valid until they expire
func (s *Service) Logout(ctx context.Context, refreshToken string) (err error) {
	defer func() { s.metrics.ObserveOperation("logout", err) }()

	if _, err = s.codec.DecodeAndValidate(refreshToken, tokencodec.TypeRefresh); err != nil {
		return err
	}

	return s.sessions.Revoke(ctx, refreshToken)
}

// Authenticate returns owner of access token
func (s *Service) Authenticate(ctx context.Context, accessToken string) (models.Account, error) {
	claims, err := s.codec.DecodeAndValidate(accessToken, tokencodec.TypeAccess)
	if err != nil {
		return models.Account{}, err
	}

	acc, err := s.accounts.Get(ctx, claims.AccountID)
	if errors.Is(err, apperrors.ErrAccountNotFound) {
		return acc, apperrors.ErrInvalidCredentials
	}

	return acc, err
}

// ChangePassword replaces password and notifies the owner
// Notice delivery failure is logged only, password is changed anyway
func (s *Service) ChangePassword(ctx context.Context, accountID uuid.UUID, current string, next string) (err error) {
	defer func() { s.metrics.ObserveOperation("change_password", err) }()

	acc, err := s.accounts.ChangePassword(ctx, accountID, current, next)
	if err != nil {
		return err
	}
	s.logger.Info("password changed", "account_id", acc.ID)

	notifyCtx, cancel := context.WithTimeout(ctx, s.notifyTimeout)
	defer cancel()

	if nerr := s.notifier.SendPasswordChanged(notifyCtx, acc.Email); nerr != nil {
		s.logger.Warn("password change notice not delivered", "account_id", acc.ID, "error", nerr.Error())
	}

	return nil
}

func (s *Service) issueSession(ctx context.Context, store *sessions.Store, acc models.Account) (models.Session, error) {
	id := tokencodec.Identity{Subject: acc.ID, Email: acc.Email}

	access, err := s.codec.CreateAccessToken(id)
	if err != nil {
		return models.Session{}, fmt.Errorf("token could not be generated. Err: %w", err)
	}
	refresh, err := s.codec.CreateRefreshToken(id)
	if err != nil {
		return models.Session{}, fmt.Errorf("token could not be generated. Err: %w", err)
	}

	if _, err := store.Issue(ctx, acc.ID, refresh); err != nil {
		return models.Session{}, err
	}

	return models.Session{
		Account:   acc,
		Tokens:    models.TokenPair{Access: access, Refresh: refresh},
		TokenType: models.TokenTypeBearer,
	}, nil
}
