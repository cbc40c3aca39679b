package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/dukerupert/kidquest/internal/model"
	"github.com/dukerupert/kidquest/internal/store"
)

// MaxCodeAttempts is how many wrong guesses burn a verification code.
const MaxCodeAttempts = 5

var phonePattern = regexp.MustCompile(`^\+[1-9][0-9]{6,14}$`)

// Verification failures. All of them match model.ErrInvalidCredentials.
var (
	ErrCodeExpired     = fmt.Errorf("code has expired or already been used: %w", model.ErrInvalidCredentials)
	ErrCodeIncorrect   = fmt.Errorf("incorrect code: %w", model.ErrInvalidCredentials)
	ErrTooManyAttempts = fmt.Errorf("too many incorrect attempts: %w", model.ErrInvalidCredentials)
)

// CodeSender delivers a verification code to a phone number.
type CodeSender interface {
	SendCode(ctx context.Context, phone, code string) error
}

// ProfileEnsurer creates the default profile for a user on first sign-in.
type ProfileEnsurer interface {
	Ensure(ctx context.Context, userID string) (*model.UserProfile, error)
}

// SignIn is the result of a successful sign-in.
type SignIn struct {
	Token     string             `json:"token"`
	ExpiresAt time.Time          `json:"expires_at"`
	Account   *model.Account     `json:"account"`
	Profile   *model.UserProfile `json:"profile"`
}

type Service struct {
	accounts   *store.AccountStore
	sessions   *store.SessionStore
	codes      *store.VerificationStore
	profiles   ProfileEnsurer
	tokens     *TokenIssuer
	sms        CodeSender
	sessionTTL time.Duration
	logger     *slog.Logger
}

func NewService(
	accounts *store.AccountStore,
	sessions *store.SessionStore,
	codes *store.VerificationStore,
	profiles ProfileEnsurer,
	tokens *TokenIssuer,
	sms CodeSender,
	sessionTTL time.Duration,
	logger *slog.Logger,
) *Service {
	return &Service{
		accounts:   accounts,
		sessions:   sessions,
		codes:      codes,
		profiles:   profiles,
		tokens:     tokens,
		sms:        sms,
		sessionTTL: sessionTTL,
		logger:     logger,
	}
}

// SignInAnonymous creates a fresh account with no credentials.
func (s *Service) SignInAnonymous(ctx context.Context) (*SignIn, error) {
	acct, err := s.accounts.Create(ctx, model.ProviderAnonymous, "", "", "")
	if err != nil {
		return nil, err
	}
	s.logger.Info("anonymous account created", "user_id", acct.ID)
	return s.startSession(ctx, acct)
}

func (s *Service) Register(ctx context.Context, email, password string) (*SignIn, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if len(password) < MinPasswordLen {
		return nil, fmt.Errorf("password must be at least %d characters: %w", MinPasswordLen, model.ErrInvalidInput)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	acct, err := s.accounts.Create(ctx, model.ProviderPassword, email, "", hash)
	if err != nil {
		return nil, err
	}
	s.logger.Info("account registered", "user_id", acct.ID)
	return s.startSession(ctx, acct)
}

func (s *Service) Login(ctx context.Context, email, password string) (*SignIn, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, model.ErrInvalidCredentials
	}
	acct, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if acct == nil || acct.PasswordHash == "" || !CheckPassword(acct.PasswordHash, password) {
		return nil, model.ErrInvalidCredentials
	}
	return s.startSession(ctx, acct)
}

// StartPhone issues a new verification code for phone and sends it.
func (s *Service) StartPhone(ctx context.Context, phone string) error {
	phone, err := normalizePhone(phone)
	if err != nil {
		return err
	}
	code, err := GenerateCode()
	if err != nil {
		return err
	}
	if _, err := s.codes.Create(ctx, phone, code); err != nil {
		return err
	}
	if err := s.sms.SendCode(ctx, phone, code); err != nil {
		return fmt.Errorf("send verification code: %w", err)
	}
	return nil
}

// VerifyPhone checks code against the pending code for phone. The first
// successful verification for a number creates its account.
func (s *Service) VerifyPhone(ctx context.Context, phone, code string) (*SignIn, error) {
	phone, err := normalizePhone(phone)
	if err != nil {
		return nil, err
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, fmt.Errorf("code is required: %w", model.ErrInvalidInput)
	}

	pending, err := s.codes.GetPending(ctx, phone)
	if err != nil {
		return nil, err
	}
	if pending == nil {
		return nil, ErrCodeExpired
	}
	if pending.Attempts >= MaxCodeAttempts {
		s.burn(ctx, pending.ID)
		return nil, ErrTooManyAttempts
	}

	if subtle.ConstantTimeCompare([]byte(pending.Code), []byte(code)) != 1 {
		attempts, err := s.codes.IncrementAttempts(ctx, pending.ID)
		if err != nil {
			s.logger.Error("increment attempts", "error", err)
		}
		if attempts >= MaxCodeAttempts {
			s.burn(ctx, pending.ID)
			return nil, ErrTooManyAttempts
		}
		return nil, ErrCodeIncorrect
	}

	if err := s.codes.MarkUsed(ctx, pending.ID); err != nil {
		if errors.Is(err, store.ErrCodeUsed) {
			return nil, ErrCodeExpired
		}
		return nil, err
	}

	acct, err := s.accounts.GetByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		acct, err = s.accounts.Create(ctx, model.ProviderPhone, "", phone, "")
		if err != nil {
			return nil, err
		}
		s.logger.Info("phone account created", "user_id", acct.ID)
	}
	return s.startSession(ctx, acct)
}

func (s *Service) burn(ctx context.Context, codeID int64) {
	if err := s.codes.MarkUsed(ctx, codeID); err != nil && !errors.Is(err, store.ErrCodeUsed) {
		s.logger.Error("burn code", "code_id", codeID, "error", err)
	}
}

// Authenticate resolves a session token to the signed-in user. Expired or
// revoked sessions fail with ErrInvalidToken.
func (s *Service) Authenticate(ctx context.Context, token string) (AuthContext, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return AuthContext{}, err
	}
	sess, err := s.sessions.GetActive(ctx, claims.ID)
	if err != nil {
		return AuthContext{}, err
	}
	if sess == nil || sess.UserID != claims.Subject {
		return AuthContext{}, fmt.Errorf("%w: session is not active", ErrInvalidToken)
	}
	return AuthContext{UserID: sess.UserID, SessionID: sess.ID}, nil
}

// Logout revokes the session. Revoking an ended session is a no-op.
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	return s.sessions.Revoke(ctx, sessionID)
}

func (s *Service) startSession(ctx context.Context, acct *model.Account) (*SignIn, error) {
	profile, err := s.profiles.Ensure(ctx, acct.ID)
	if err != nil {
		return nil, fmt.Errorf("ensure profile: %w", err)
	}
	sess, err := s.sessions.Create(ctx, acct.ID, s.sessionTTL)
	if err != nil {
		return nil, err
	}
	token, err := s.tokens.Issue(acct.ID, sess.ID, sess.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &SignIn{Token: token, ExpiresAt: sess.ExpiresAt, Account: acct, Profile: profile}, nil
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("invalid email address: %w", model.ErrInvalidInput)
	}
	return email, nil
}

func normalizePhone(phone string) (string, error) {
	phone = strings.ReplaceAll(strings.TrimSpace(phone), " ", "")
	if !phonePattern.MatchString(phone) {
		return "", fmt.Errorf("phone must be in E.164 format: %w", model.ErrInvalidInput)
	}
	return phone, nil
}
