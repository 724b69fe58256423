package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/sakif/trainsync/internal/apperror"
	"github.com/sakif/trainsync/internal/auth"
	trainmail "github.com/sakif/trainsync/internal/mail"
	"github.com/sakif/trainsync/internal/metrics"
	"github.com/sakif/trainsync/internal/model"
	"github.com/sakif/trainsync/internal/repository"
)

// CodeTTL is how long an emailed verification or reset code is accepted.
const CodeTTL = 10 * time.Minute

// MaxDeviceTokenLength bounds the push token a phone may register.
const MaxDeviceTokenLength = 512

// ForgotPasswordMessage is returned by ForgotPassword whether or not the
// email belongs to an account.
const ForgotPasswordMessage = "If an account exists for that email, a reset code has been sent."

var (
	errInvalidCredentials = apperror.Unauthorized("invalid email or password")
	errInvalidRefresh     = apperror.Unauthorized("invalid refresh token")
	errAccountGone        = apperror.Unauthorized("account no longer exists")
	errInvalidResetCode   = apperror.ValidationFailed("code", "invalid or expired reset code")
)

// AuthService is the session manager: it issues, rotates and revokes token
// pairs and runs the email-verification and password-reset code flows.
//
// DEPENDENCIES (injected via NewAuthService):
//   - accounts   repository.AccountRepository → credential store
//   - passwords  *auth.PasswordService        → bcrypt
//   - tokens     *auth.TokenService           → access-token JWTs
//   - mailer     mail.Mailer                  → delivers one-time codes
type AuthService struct {
	accounts  repository.AccountRepository
	passwords *auth.PasswordService
	tokens    *auth.TokenService
	mailer    trainmail.Mailer
	logger    *slog.Logger
	now       Clock
}

func NewAuthService(
	accounts repository.AccountRepository,
	passwords *auth.PasswordService,
	tokens *auth.TokenService,
	mailer trainmail.Mailer,
	logger *slog.Logger,
	now Clock,
) *AuthService {
	return &AuthService{
		accounts:  accounts,
		passwords: passwords,
		tokens:    tokens,
		mailer:    mailer,
		logger:    logger,
		now:       now,
	}
}

// =========================================================================
// REGISTRATION & LOGIN
// =========================================================================

// Register creates an account, emails a verification code and returns a
// fresh token pair. The account is usable before the email is verified.
func (s *AuthService) Register(ctx context.Context, email, password string) (*model.TokenPair, error) {
	pair, err := s.register(ctx, email, password)
	s.record(metrics.AuthRegister, err)
	return pair, err
}

func (s *AuthService) register(ctx context.Context, email, password string) (*model.TokenPair, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if err := checkPassword("password", password); err != nil {
		return nil, err
	}

	if _, err := s.accounts.GetAccountByEmail(ctx, email); err == nil {
		return nil, apperror.Conflict("account", "email is already registered")
	} else if !isNotFound(err) {
		return nil, fmt.Errorf("checking email: %w", err)
	}

	hash, err := s.passwords.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}
	code, err := auth.NewCode()
	if err != nil {
		return nil, err
	}
	refresh, err := auth.NewRefreshToken()
	if err != nil {
		return nil, err
	}

	now := s.now()
	account := &model.Account{
		ID:               newID(),
		Email:            email,
		PasswordHash:     hash,
		RefreshTokenHash: auth.HashToken(refresh),
		Verification:     model.OneTimeCode{Hash: auth.HashToken(code), ExpiresAt: now.Add(CodeTTL)},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.accounts.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			// Lost a race with a concurrent registration of the same email.
			return nil, apperror.Conflict("account", "email is already registered")
		}
		return nil, fmt.Errorf("creating account: %w", err)
	}

	s.logger.Info("account registered", slog.String("userID", account.ID))
	s.send(ctx, trainmail.VerificationMessage(email, code, CodeTTL))

	return s.pair(account, refresh)
}

// Login checks email + password and returns a fresh token pair. Unknown
// email and wrong password produce the same error after the same amount of
// bcrypt work.
func (s *AuthService) Login(ctx context.Context, email, password string) (*model.TokenPair, error) {
	pair, err := s.login(ctx, email, password)
	s.record(metrics.AuthLogin, err)
	return pair, err
}

func (s *AuthService) login(ctx context.Context, email, password string) (*model.TokenPair, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		s.passwords.VerifyDummy(password)
		return nil, errInvalidCredentials
	}

	account, err := s.accounts.GetAccountByEmail(ctx, email)
	if err != nil {
		if isNotFound(err) {
			s.passwords.VerifyDummy(password)
			return nil, errInvalidCredentials
		}
		return nil, fmt.Errorf("looking up account: %w", err)
	}

	if err := s.passwords.Verify(account.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return nil, errInvalidCredentials
		}
		return nil, err
	}

	return s.issue(ctx, account)
}

// =========================================================================
// TOKEN ROTATION
// =========================================================================

// Refresh trades a refresh token for a new pair. The stored digest is
// overwritten, so the presented token (and any other outstanding one)
// stops working. Two concurrent refreshes with the same token both
// succeed; only the pair written last remains refreshable.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*model.TokenPair, error) {
	pair, err := s.refresh(ctx, refreshToken)
	s.record(metrics.AuthRefresh, err)
	return pair, err
}

func (s *AuthService) refresh(ctx context.Context, refreshToken string) (*model.TokenPair, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil, errInvalidRefresh
	}

	account, err := s.accounts.GetAccountByRefreshHash(ctx, auth.HashToken(refreshToken))
	if err != nil {
		if isNotFound(err) {
			return nil, errInvalidRefresh
		}
		return nil, fmt.Errorf("looking up refresh token: %w", err)
	}
	return s.issue(ctx, account)
}

// Logout forgets the refresh token. The access token stays valid until it
// expires.
func (s *AuthService) Logout(ctx context.Context, userID string) error {
	err := s.accounts.SetRefreshTokenHash(ctx, userID, "")
	if isNotFound(err) {
		err = errAccountGone
	}
	s.record(metrics.AuthLogout, err)
	return err
}

// issue mints a pair and stores the new refresh digest.
func (s *AuthService) issue(ctx context.Context, account *model.Account) (*model.TokenPair, error) {
	refresh, err := auth.NewRefreshToken()
	if err != nil {
		return nil, err
	}
	if err := s.accounts.SetRefreshTokenHash(ctx, account.ID, auth.HashToken(refresh)); err != nil {
		if isNotFound(err) {
			return nil, errAccountGone
		}
		return nil, fmt.Errorf("storing refresh token: %w", err)
	}
	return s.pair(account, refresh)
}

func (s *AuthService) pair(account *model.Account, refresh string) (*model.TokenPair, error) {
	access, err := s.tokens.Generate(account.ID, account.Email)
	if err != nil {
		return nil, err
	}
	return &model.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.tokens.TTL() / time.Second),
		TokenType:    "Bearer",
	}, nil
}

// =========================================================================
// PASSWORDS
// =========================================================================

// ChangePassword replaces the password after checking the current one, and
// logs every device out by clearing the refresh token.
func (s *AuthService) ChangePassword(ctx context.Context, userID, current, next string) error {
	err := s.changePassword(ctx, userID, current, next)
	s.record(metrics.AuthChangePassword, err)
	return err
}

func (s *AuthService) changePassword(ctx context.Context, userID, current, next string) error {
	account, err := s.account(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.passwords.Verify(account.PasswordHash, current); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return apperror.Unauthorized("current password is incorrect")
		}
		return err
	}
	if err := checkPassword("newPassword", next); err != nil {
		return err
	}

	hash, err := s.passwords.Hash(next)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	if err := s.accounts.SetPassword(ctx, userID, hash); err != nil {
		return fmt.Errorf("storing password: %w", err)
	}
	s.logger.Info("password changed", slog.String("userID", userID))
	return nil
}

// ForgotPassword emails a reset code if the address has an account. The
// result is the same either way; only a malformed address is an error.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) (string, error) {
	err := s.forgotPassword(ctx, email)
	s.record(metrics.AuthForgotPassword, err)
	if err != nil {
		return "", err
	}
	return ForgotPasswordMessage, nil
}

func (s *AuthService) forgotPassword(ctx context.Context, email string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}

	account, err := s.accounts.GetAccountByEmail(ctx, email)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("looking up account: %w", err)
	}

	code, err := auth.NewCode()
	if err != nil {
		return err
	}
	pending := model.OneTimeCode{Hash: auth.HashToken(code), ExpiresAt: s.now().Add(CodeTTL)}
	if err := s.accounts.SetResetCode(ctx, account.ID, pending); err != nil {
		return fmt.Errorf("storing reset code: %w", err)
	}

	s.send(ctx, trainmail.ResetMessage(account.Email, code, CodeTTL))
	return nil
}

// ResetPassword sets a new password using an emailed code. Every failure
// about the account or the code looks the same to the caller. An expired
// code is cleared so it can't be retried.
func (s *AuthService) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	err := s.resetPassword(ctx, email, code, newPassword)
	s.record(metrics.AuthResetPassword, err)
	return err
}

func (s *AuthService) resetPassword(ctx context.Context, email, code, newPassword string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}
	if err := checkPassword("newPassword", newPassword); err != nil {
		return err
	}

	account, err := s.accounts.GetAccountByEmail(ctx, email)
	if err != nil {
		if isNotFound(err) {
			return errInvalidResetCode
		}
		return fmt.Errorf("looking up account: %w", err)
	}

	if err := s.checkCode(ctx, account.ID, account.Reset, code, s.accounts.SetResetCode); err != nil {
		if errors.Is(err, apperror.ErrValidation) {
			return errInvalidResetCode
		}
		return err
	}

	hash, err := s.passwords.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	// SetPassword also clears the reset code and the refresh token.
	if err := s.accounts.SetPassword(ctx, account.ID, hash); err != nil {
		return fmt.Errorf("storing password: %w", err)
	}
	s.logger.Info("password reset", slog.String("userID", account.ID))
	return nil
}

// =========================================================================
// EMAIL VERIFICATION
// =========================================================================

// VerifyEmail consumes the pending verification code. Verifying an already
// verified account succeeds without doing anything.
func (s *AuthService) VerifyEmail(ctx context.Context, userID, code string) error {
	err := s.verifyEmail(ctx, userID, code)
	s.record(metrics.AuthVerifyEmail, err)
	return err
}

func (s *AuthService) verifyEmail(ctx context.Context, userID, code string) error {
	account, err := s.account(ctx, userID)
	if err != nil {
		return err
	}
	if account.EmailVerified {
		return nil
	}
	if err := s.checkCode(ctx, account.ID, account.Verification, code, s.accounts.SetVerificationCode); err != nil {
		return err
	}
	if err := s.accounts.MarkEmailVerified(ctx, account.ID); err != nil {
		return fmt.Errorf("marking email verified: %w", err)
	}
	s.logger.Info("email verified", slog.String("userID", account.ID))
	return nil
}

// ResendVerification replaces any pending verification code with a new one.
func (s *AuthService) ResendVerification(ctx context.Context, userID string) error {
	account, err := s.account(ctx, userID)
	if err != nil {
		return err
	}
	if account.EmailVerified {
		return nil
	}

	code, err := auth.NewCode()
	if err != nil {
		return err
	}
	pending := model.OneTimeCode{Hash: auth.HashToken(code), ExpiresAt: s.now().Add(CodeTTL)}
	if err := s.accounts.SetVerificationCode(ctx, account.ID, pending); err != nil {
		return fmt.Errorf("storing verification code: %w", err)
	}
	s.send(ctx, trainmail.VerificationMessage(account.Email, code, CodeTTL))
	return nil
}

// checkCode runs the shared one-time-code rules: a code must be pending,
// unexpired and match. Expired codes are cleared through clear.
func (s *AuthService) checkCode(
	ctx context.Context,
	accountID string,
	stored model.OneTimeCode,
	presented string,
	clear func(ctx context.Context, id string, code model.OneTimeCode) error,
) error {
	if !stored.Pending() {
		return apperror.ValidationFailed("code", "no code is pending; request a new one")
	}
	if stored.Expired(s.now()) {
		if err := clear(ctx, accountID, model.OneTimeCode{}); err != nil {
			return fmt.Errorf("clearing expired code: %w", err)
		}
		return apperror.ValidationFailed("code", "code has expired; request a new one")
	}
	if !auth.CodeMatches(stored.Hash, strings.TrimSpace(presented)) {
		return apperror.ValidationFailed("code", "invalid code")
	}
	return nil
}

// =========================================================================
// ACCOUNT
// =========================================================================

// Me returns the caller's account.
func (s *AuthService) Me(ctx context.Context, userID string) (*model.Account, error) {
	return s.account(ctx, userID)
}

// RegisterDevice stores the push token of the caller's phone. An empty
// token unregisters it.
func (s *AuthService) RegisterDevice(ctx context.Context, userID, token string) error {
	token, err := optionalText("deviceToken", token, MaxDeviceTokenLength)
	if err != nil {
		return err
	}
	if err := s.accounts.SetDeviceToken(ctx, userID, token); err != nil {
		if isNotFound(err) {
			return errAccountGone
		}
		return fmt.Errorf("storing device token: %w", err)
	}
	return nil
}

// DeleteAccount removes the account and everything it owns.
func (s *AuthService) DeleteAccount(ctx context.Context, userID string) error {
	err := s.accounts.DeleteAccount(ctx, userID)
	if isNotFound(err) {
		err = errAccountGone
	}
	s.record(metrics.AuthDeleteAccount, err)
	if err == nil {
		s.logger.Info("account deleted", slog.String("userID", userID))
	}
	return err
}

func (s *AuthService) account(ctx context.Context, userID string) (*model.Account, error) {
	account, err := s.accounts.GetAccountByID(ctx, userID)
	if err != nil {
		if isNotFound(err) {
			return nil, errAccountGone
		}
		return nil, fmt.Errorf("looking up account: %w", err)
	}
	return account, nil
}

// send hands a message to the mailer. Delivery problems never fail the
// request that triggered them.
func (s *AuthService) send(ctx context.Context, msg trainmail.Message) {
	if err := s.mailer.Send(ctx, msg); err != nil {
		s.logger.Error("queueing mail failed",
			slog.String("kind", msg.Kind),
			slog.String("error", err.Error()),
		)
	}
}

func (s *AuthService) record(event string, err error) {
	metrics.AuthEventsTotal.WithLabelValues(event, metrics.Result(err)).Inc()
}

// normalizeEmail accepts a bare address ("a@b.c", no display name) and
// lowercases it.
func normalizeEmail(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", apperror.ValidationFailed("email", "email is required")
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Address != raw || addr.Name != "" {
		return "", apperror.ValidationFailed("email", "email is not a valid address")
	}
	return strings.ToLower(addr.Address), nil
}

func checkPassword(field, password string) error {
	if err := auth.CheckLength(password); err != nil {
		return apperror.ValidationFailed(field, fmt.Sprintf("%s must be between %d and %d bytes",
			field, auth.MinPasswordLength, auth.MaxPasswordLength))
	}
	return nil
}
