package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"tournament-api/internal/mail"
	"tournament-api/internal/observability"
)

const (
	VerificationTokenTTL  = 24 * time.Hour
	PasswordResetTokenTTL = 60 * time.Minute
)

type ServiceConfig struct {
	FrontendURL      string
	RevokedRetention time.Duration
	Clock            Clock
}

// Service runs the account and session use cases.
type Service struct {
	store    Store
	codec    *TokenCodec
	hasher   *PasswordHasher
	guard    *LockGuard
	sessions *SessionStore
	codes    *CodeStore
	audit    *Auditor
	mailer   mail.Sender
	logger   *observability.Logger
	clock    Clock

	frontendURL      string
	revokedRetention time.Duration
}

func NewService(store Store, codec *TokenCodec, hasher *PasswordHasher, guard *LockGuard, mailer mail.Sender, logger *observability.Logger, cfg ServiceConfig) *Service {
	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock
	}
	if cfg.RevokedRetention <= 0 {
		cfg.RevokedRetention = DefaultRevokedRetention
	}

	return &Service{
		store:            store,
		codec:            codec,
		hasher:           hasher,
		guard:            guard,
		sessions:         NewSessionStore(store, clock),
		codes:            NewCodeStore(store, clock),
		audit:            NewAuditor(store, logger, clock),
		mailer:           mailer,
		logger:           logger,
		clock:            clock,
		frontendURL:      strings.TrimRight(cfg.FrontendURL, "/"),
		revokedRetention: cfg.RevokedRetention,
	}
}

func (s *Service) Codec() *TokenCodec {
	return s.codec
}

func (s *Service) Register(ctx context.Context, input RegisterInput) (AccountSummary, error) {
	input.Email = normalizeEmail(input.Email)
	input.FirstName = strings.TrimSpace(input.FirstName)
	input.LastName = strings.TrimSpace(input.LastName)
	if err := validateInput(input); err != nil {
		return AccountSummary{}, err
	}

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return AccountSummary{}, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return AccountSummary{}, fmt.Errorf("generate account id: %w", err)
	}

	now := s.clock()
	account := Account{
		ID:           id.String(),
		Email:        input.Email,
		PasswordHash: hash,
		FirstName:    input.FirstName,
		LastName:     input.LastName,
		Role:         RoleUser,
		Provider:     ProviderEmail,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateAccount(ctx, account); err != nil {
		return AccountSummary{}, err
	}

	s.logger.Info("account_registered", map[string]any{"account_id": account.ID})
	if err := s.sendVerification(ctx, account); err != nil {
		return AccountSummary{}, err
	}
	return account.Summary(), nil
}

func (s *Service) sendVerification(ctx context.Context, account Account) error {
	token, err := randomToken(32)
	if err != nil {
		return fmt.Errorf("generate verification token: %w", err)
	}
	now := s.clock()
	err = s.store.ReplaceVerificationToken(ctx, OneTimeToken{
		Token:     token,
		AccountID: account.ID,
		ExpiresAt: now.Add(VerificationTokenTTL),
		CreatedAt: now,
	})
	if err != nil {
		return err
	}

	s.sendMail(ctx, account, mail.KindVerification, s.frontendURL+"/auth/verify-email?token="+url.QueryEscape(token))
	return nil
}

func (s *Service) sendMail(ctx context.Context, account Account, kind mail.Kind, link string) {
	vars := map[string]string{"name": account.FirstName}
	if link != "" {
		vars["link"] = link
	}
	if err := s.mailer.Send(ctx, account.Email, kind, vars); err != nil {
		s.logger.Error("mail_enqueue_failed", map[string]any{
			"account_id": account.ID,
			"kind":       string(kind),
			"error":      err.Error(),
		})
	}
}

func (s *Service) VerifyEmail(ctx context.Context, token string, client ClientInfo) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ValidationError{Message: "verification token is required"}
	}

	consumed, err := s.store.ConsumeVerificationToken(ctx, token, s.clock())
	if errors.Is(err, ErrNotFound) {
		return ValidationError{Message: "invalid or expired verification token"}
	}
	if err != nil {
		return err
	}

	account, err := s.store.GetAccountByID(ctx, consumed.AccountID)
	if err != nil {
		return err
	}
	if account.EmailVerified {
		return nil
	}
	if err := s.store.SetEmailVerified(ctx, account.ID, s.clock()); err != nil {
		return err
	}

	s.audit.Record(ctx, account.ID, AuditEmailVerified, client, nil)
	s.sendMail(ctx, account, mail.KindWelcome, "")
	return nil
}

// ResendVerification never reveals whether the email is registered.
func (s *Service) ResendVerification(ctx context.Context, email string) error {
	account, err := s.store.GetAccountByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if account.EmailVerified {
		return nil
	}
	return s.sendVerification(ctx, account)
}

func (s *Service) Login(ctx context.Context, email, password string, client ClientInfo) (AuthResult, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		s.hasher.VerifyDummy(password)
		return AuthResult{}, authFailed("empty credentials")
	}

	account, err := s.store.GetAccountByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		s.hasher.VerifyDummy(password)
		s.audit.Record(ctx, "", AuditLoginFailed, client, map[string]string{"email": email, "reason": "account not found"})
		s.logger.Info("login_failed", map[string]any{"reason": "account not found", "ip": client.IP})
		return AuthResult{}, authFailed("account not found")
	}
	if err != nil {
		return AuthResult{}, err
	}

	if s.guard.IsLocked(account) {
		s.hasher.VerifyDummy(password)
		return AuthResult{}, AccountLockedError{Until: *account.LockedUntil}
	}

	if account.PasswordHash == "" || !s.hasher.Verify(password, account.PasswordHash) {
		if account.PasswordHash == "" {
			s.hasher.VerifyDummy(password)
		}
		return AuthResult{}, s.recordFailedLogin(ctx, account, client)
	}

	if !account.EmailVerified {
		s.logger.Info("login_failed", map[string]any{"reason": "email not verified", "account_id": account.ID})
		return AuthResult{}, AuthFailure{Reason: "email not verified", Message: "please verify your email address before signing in"}
	}

	now := s.clock()
	if account.FailedLoginAttempts > 0 || account.LockedUntil != nil {
		if err := s.store.ResetFailedLogins(ctx, account.ID, now); err != nil {
			return AuthResult{}, err
		}
		s.guard.RecordSuccess(&account)
	}
	s.upgradeHash(ctx, account, password)

	tokens, err := s.issueSession(ctx, account, client)
	if err != nil {
		return AuthResult{}, err
	}

	s.audit.Record(ctx, account.ID, AuditLoginSuccess, client, nil)
	s.logger.Info("login_succeeded", map[string]any{"account_id": account.ID, "ip": client.IP})
	return AuthResult{Tokens: tokens, Account: account.Summary()}, nil
}

func (s *Service) recordFailedLogin(ctx context.Context, account Account, client ClientInfo) error {
	updated, err := s.store.RecordFailedLogin(ctx, account.ID, s.guard.MaxAttempts(), s.guard.LockDuration(), s.clock())
	if err != nil {
		return err
	}

	s.audit.Record(ctx, account.ID, AuditLoginFailed, client, map[string]string{"email": account.Email, "reason": "invalid password"})
	s.logger.Info("login_failed", map[string]any{
		"reason":          "invalid password",
		"account_id":      account.ID,
		"failed_attempts": updated.FailedLoginAttempts,
	})

	if s.guard.IsLocked(updated) {
		s.audit.Record(ctx, account.ID, AuditAccountLocked, client, map[string]string{
			"locked_until": updated.LockedUntil.UTC().Format(time.RFC3339),
		})
		s.logger.Warn("account_locked", map[string]any{
			"account_id":   account.ID,
			"locked_until": updated.LockedUntil.UTC().Format(time.RFC3339),
		})
	}
	return authFailed("invalid password")
}

// upgradeHash re-hashes legacy or weaker hashes after a successful login.
func (s *Service) upgradeHash(ctx context.Context, account Account, password string) {
	if !s.hasher.NeedsRehash(account.PasswordHash) {
		return
	}
	hash, err := s.hasher.Hash(password)
	if err == nil {
		err = s.store.UpdatePasswordHash(ctx, account.ID, hash, s.clock())
	}
	if err != nil {
		s.logger.Warn("password_rehash_failed", map[string]any{"account_id": account.ID, "error": err.Error()})
	}
}

func (s *Service) issueSession(ctx context.Context, account Account, client ClientInfo) (Tokens, error) {
	access, err := s.codec.Issue(account.Email, account.ID, account.Role, TokenAccess, 0)
	if err != nil {
		return Tokens{}, err
	}
	refresh, err := s.codec.Issue(account.Email, account.ID, "", TokenRefresh, 0)
	if err != nil {
		return Tokens{}, err
	}
	if _, err := s.sessions.Create(ctx, account.ID, HashToken(refresh), client, s.codec.RefreshTTL()); err != nil {
		return Tokens{}, err
	}

	return Tokens{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.codec.AccessTTL().Seconds()),
	}, nil
}

// Refresh rotates a refresh token. Only the caller that wins the revoke of
// the old session gets a new pair, so a replayed token always fails.
func (s *Service) Refresh(ctx context.Context, refreshToken string, client ClientInfo) (AuthResult, error) {
	claims, err := s.codec.VerifyKind(refreshToken, TokenRefresh)
	if err != nil {
		return AuthResult{}, authFailed("invalid refresh token")
	}

	session, found, err := s.sessions.FindValidByHash(ctx, HashToken(strings.TrimSpace(refreshToken)))
	if err != nil {
		return AuthResult{}, err
	}
	if !found || session.AccountID != claims.AccountID {
		return AuthResult{}, authFailed("session not found")
	}

	revoked, err := s.sessions.Revoke(ctx, session.ID)
	if err != nil {
		return AuthResult{}, err
	}
	if !revoked {
		return AuthResult{}, authFailed("session already rotated")
	}

	account, err := s.store.GetAccountByID(ctx, session.AccountID)
	if errors.Is(err, ErrNotFound) {
		return AuthResult{}, authFailed("account not found")
	}
	if err != nil {
		return AuthResult{}, err
	}
	if s.guard.IsLocked(account) {
		return AuthResult{}, AccountLockedError{Until: *account.LockedUntil}
	}

	tokens, err := s.issueSession(ctx, account, client)
	if err != nil {
		return AuthResult{}, err
	}
	return AuthResult{Tokens: tokens, Account: account.Summary()}, nil
}

func (s *Service) ExchangeOAuthCode(ctx context.Context, code string) (AuthResult, error) {
	consumed, err := s.codes.Exchange(ctx, strings.TrimSpace(code))
	if err != nil {
		return AuthResult{}, err
	}

	account, err := s.store.GetAccountByID(ctx, consumed.AccountID)
	if errors.Is(err, ErrNotFound) {
		return AuthResult{}, authFailed("account not found")
	}
	if err != nil {
		return AuthResult{}, err
	}

	return AuthResult{
		Tokens: Tokens{
			AccessToken:  consumed.AccessToken,
			RefreshToken: consumed.RefreshToken,
			TokenType:    "Bearer",
			ExpiresIn:    int64(s.codec.AccessTTL().Seconds()),
		},
		Account: account.Summary(),
	}, nil
}

// Logout is idempotent: an unknown or already revoked token is not an error.
func (s *Service) Logout(ctx context.Context, refreshToken string, client ClientInfo) error {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil
	}

	session, found, err := s.sessions.FindValidByHash(ctx, HashToken(refreshToken))
	if err != nil || !found {
		return err
	}

	revoked, err := s.sessions.Revoke(ctx, session.ID)
	if err != nil {
		return err
	}
	if revoked {
		s.audit.Record(ctx, session.AccountID, AuditLogout, client, nil)
	}
	return nil
}

func (s *Service) LogoutAll(ctx context.Context, accountID string, client ClientInfo) (int64, error) {
	count, err := s.sessions.RevokeAll(ctx, accountID)
	if err != nil {
		return 0, err
	}

	s.audit.Record(ctx, accountID, AuditLogoutAll, client, map[string]string{"revoked_sessions": fmt.Sprint(count)})
	s.logger.Info("sessions_revoked", map[string]any{"account_id": accountID, "count": count})
	return count, nil
}

// CompleteFederatedLogin signs in a provider-verified identity and returns
// the one-time code the browser trades for the tokens.
func (s *Service) CompleteFederatedLogin(ctx context.Context, profile FederatedProfile, client ClientInfo) (string, error) {
	profile.Email = normalizeEmail(profile.Email)
	if profile.Email == "" || profile.Subject == "" {
		return "", ValidationError{Message: "provider did not return a verified email"}
	}

	account, err := s.resolveFederatedAccount(ctx, profile)
	if err != nil {
		return "", err
	}
	if s.guard.IsLocked(account) {
		return "", AccountLockedError{Until: *account.LockedUntil}
	}

	tokens, err := s.issueSession(ctx, account, client)
	if err != nil {
		return "", err
	}
	s.audit.Record(ctx, account.ID, AuditOAuthLogin, client, map[string]string{"provider": string(profile.Provider)})

	code, err := s.codes.Issue(ctx, account.ID, tokens)
	if err != nil {
		return "", err
	}
	s.logger.Info("federated_login_succeeded", map[string]any{"account_id": account.ID, "provider": string(profile.Provider)})
	return code, nil
}

func (s *Service) resolveFederatedAccount(ctx context.Context, profile FederatedProfile) (Account, error) {
	account, err := s.store.GetAccountByProvider(ctx, profile.Provider, profile.Subject)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Account{}, err
	}

	now := s.clock()
	account, err = s.store.GetAccountByEmail(ctx, profile.Email)
	switch {
	case err == nil:
		if err := s.store.LinkProvider(ctx, account.ID, profile.Provider, profile.Subject, profile.AvatarURL, now); err != nil {
			return Account{}, err
		}
		if !account.EmailVerified {
			if err := s.claimUnverifiedAccount(ctx, account, now); err != nil {
				return Account{}, err
			}
		}
		return s.store.GetAccountByID(ctx, account.ID)
	case !errors.Is(err, ErrNotFound):
		return Account{}, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return Account{}, fmt.Errorf("generate account id: %w", err)
	}
	account = Account{
		ID:              id.String(),
		Email:           profile.Email,
		FirstName:       profile.FirstName,
		LastName:        profile.LastName,
		AvatarURL:       profile.AvatarURL,
		Role:            RoleUser,
		Provider:        profile.Provider,
		ProviderSubject: profile.Subject,
		EmailVerified:   true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.CreateAccount(ctx, account); err != nil {
		return Account{}, err
	}
	s.logger.Info("account_registered", map[string]any{"account_id": account.ID, "provider": string(profile.Provider)})
	return account, nil
}

// claimUnverifiedAccount hands an unverified email account to the provider
// identity. Nobody proved ownership of that email, so its password and any
// sessions opened with it are discarded before the account becomes verified.
func (s *Service) claimUnverifiedAccount(ctx context.Context, account Account, now time.Time) error {
	if account.PasswordHash != "" {
		if err := s.store.UpdatePasswordHash(ctx, account.ID, "", now); err != nil {
			return err
		}
	}
	if _, err := s.sessions.RevokeAll(ctx, account.ID); err != nil {
		return err
	}
	if err := s.store.SetEmailVerified(ctx, account.ID, now); err != nil {
		return err
	}
	s.logger.Warn("unverified_account_claimed", map[string]any{"account_id": account.ID})
	return nil
}

// ForgotPassword never reveals whether the email is registered.
func (s *Service) ForgotPassword(ctx context.Context, email string, client ClientInfo) error {
	account, err := s.store.GetAccountByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	token, err := randomToken(32)
	if err != nil {
		return fmt.Errorf("generate reset token: %w", err)
	}
	now := s.clock()
	err = s.store.ReplacePasswordResetToken(ctx, OneTimeToken{
		Token:     token,
		AccountID: account.ID,
		ExpiresAt: now.Add(PasswordResetTokenTTL),
		CreatedAt: now,
	})
	if err != nil {
		return err
	}

	s.sendMail(ctx, account, mail.KindPasswordReset, s.frontendURL+"/auth/reset-password?token="+url.QueryEscape(token))
	s.audit.Record(ctx, account.ID, AuditPasswordResetRequested, client, nil)
	return nil
}

func (s *Service) ResetPassword(ctx context.Context, input ResetPasswordInput, client ClientInfo) error {
	input.Token = strings.TrimSpace(input.Token)
	if err := validateInput(input); err != nil {
		return err
	}

	hash, err := s.hasher.Hash(input.NewPassword)
	if err != nil {
		return err
	}

	consumed, err := s.store.ConsumePasswordResetToken(ctx, input.Token, s.clock())
	if errors.Is(err, ErrNotFound) {
		return ValidationError{Message: "invalid or expired reset token"}
	}
	if err != nil {
		return err
	}

	account, err := s.store.GetAccountByID(ctx, consumed.AccountID)
	if err != nil {
		return err
	}
	now := s.clock()
	if err := s.store.UpdatePasswordHash(ctx, account.ID, hash, now); err != nil {
		return err
	}
	if err := s.store.ResetFailedLogins(ctx, account.ID, now); err != nil {
		return err
	}
	if _, err := s.sessions.RevokeAll(ctx, account.ID); err != nil {
		return err
	}

	s.sendMail(ctx, account, mail.KindPasswordChanged, "")
	s.audit.Record(ctx, account.ID, AuditPasswordChanged, client, map[string]string{"source": "password_reset"})
	return nil
}

func (s *Service) ChangePassword(ctx context.Context, accountID string, input ChangePasswordInput, client ClientInfo) error {
	if err := validateInput(input); err != nil {
		return err
	}

	account, err := s.store.GetAccountByID(ctx, accountID)
	if err != nil {
		return err
	}
	if account.PasswordHash == "" || !s.hasher.Verify(input.CurrentPassword, account.PasswordHash) {
		return ValidationError{Message: "current password is incorrect"}
	}
	if s.hasher.Verify(input.NewPassword, account.PasswordHash) {
		return ValidationError{Message: "new password must differ from the current one"}
	}

	hash, err := s.hasher.Hash(input.NewPassword)
	if err != nil {
		return err
	}
	if err := s.store.UpdatePasswordHash(ctx, account.ID, hash, s.clock()); err != nil {
		return err
	}

	s.sendMail(ctx, account, mail.KindPasswordChanged, "")
	s.audit.Record(ctx, account.ID, AuditPasswordChanged, client, map[string]string{"source": "user_change"})
	return nil
}

func (s *Service) Account(ctx context.Context, accountID string) (AccountSummary, error) {
	account, err := s.store.GetAccountByID(ctx, accountID)
	if err != nil {
		return AccountSummary{}, err
	}
	return account.Summary(), nil
}

func (s *Service) UpdateAvatar(ctx context.Context, accountID, avatarURL string) (AccountSummary, error) {
	if err := s.store.UpdateAvatar(ctx, accountID, avatarURL, s.clock()); err != nil {
		return AccountSummary{}, err
	}
	return s.Account(ctx, accountID)
}

// BootstrapAdmin creates or promotes the initial administrator. Running it
// again with the same credentials is a no-op apart from re-hashing.
func (s *Service) BootstrapAdmin(ctx context.Context, email, password string) error {
	email = normalizeEmail(email)
	if email == "" && password == "" {
		return nil
	}
	if email == "" || password == "" {
		return errors.New("ADMIN_EMAIL and ADMIN_PASSWORD are required together")
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return err
	}
	now := s.clock()

	account, err := s.store.GetAccountByEmail(ctx, email)
	switch {
	case err == nil:
		if err := s.store.PromoteToAdmin(ctx, account.ID, hash, now); err != nil {
			return err
		}
		s.logger.Info("admin_bootstrapped", map[string]any{"account_id": account.ID, "created": false})
		return nil
	case !errors.Is(err, ErrNotFound):
		return err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate account id: %w", err)
	}
	account = Account{
		ID:            id.String(),
		Email:         email,
		PasswordHash:  hash,
		Role:          RoleAdmin,
		Provider:      ProviderEmail,
		EmailVerified: true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.CreateAccount(ctx, account); err != nil {
		return err
	}
	s.logger.Info("admin_bootstrapped", map[string]any{"account_id": account.ID, "created": true})
	return nil
}

// CleanupStaleAuthData runs every sweep once. A failing sweep does not stop
// the others; all errors are returned together.
func (s *Service) CleanupStaleAuthData(ctx context.Context, batchSize int) (CleanupResult, error) {
	var result CleanupResult
	var errs []error
	now := s.clock()

	run := func(name string, target *int64, sweep func() (int64, error)) {
		count, err := sweep()
		*target = count
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	run("expired sessions", &result.DeletedExpiredSessions, func() (int64, error) {
		return s.sessions.SweepExpired(ctx, batchSize)
	})
	run("revoked sessions", &result.DeletedRevokedSessions, func() (int64, error) {
		return s.sessions.SweepOldRevoked(ctx, s.revokedRetention, batchSize)
	})
	run("authorization codes", &result.DeletedAuthorizationCodes, func() (int64, error) {
		return s.codes.SweepExpired(ctx, batchSize)
	})
	run("verification tokens", &result.DeletedVerificationTokens, func() (int64, error) {
		return s.store.DeleteExpiredVerificationTokens(ctx, now, batchSize)
	})
	run("password reset tokens", &result.DeletedPasswordResetTokens, func() (int64, error) {
		return s.store.DeleteStalePasswordResetTokens(ctx, now, batchSize)
	})

	return result, errors.Join(errs...)
}
