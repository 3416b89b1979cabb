package auth

import "time"

type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

type Provider string

const (
	ProviderEmail  Provider = "EMAIL"
	ProviderGoogle Provider = "GOOGLE"
)

type TokenKind string

const (
	TokenAccess  TokenKind = "access"
	TokenRefresh TokenKind = "refresh"
)

// Clock is the single time source for expiry math.
type Clock func() time.Time

func SystemClock() time.Time {
	return time.Now().UTC()
}

type Account struct {
	ID                  string
	Email               string
	PasswordHash        string // empty for federated-only accounts
	FirstName           string
	LastName            string
	AvatarURL           string
	Role                Role
	Provider            Provider
	ProviderSubject     string
	EmailVerified       bool
	FailedLoginAttempts int
	LastFailedLogin     *time.Time
	LockedUntil         *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (a Account) DisplayName() string {
	name := a.FirstName
	if a.LastName != "" {
		if name != "" {
			name += " "
		}
		name += a.LastName
	}
	if name == "" {
		return a.Email
	}
	return name
}

// Session is a server-side refresh session. The raw refresh token is never stored.
type Session struct {
	ID        string
	AccountID string
	TokenHash string
	IP        string
	UserAgent string
	ExpiresAt time.Time
	CreatedAt time.Time
	RevokedAt *time.Time
}

func (s Session) Valid(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// AuthorizationCode hands pre-issued tokens across the federated-login redirect.
type AuthorizationCode struct {
	ID           string
	Code         string
	AccountID    string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Used         bool
	CreatedAt    time.Time
}

func (c AuthorizationCode) Valid(now time.Time) bool {
	return !c.Used && now.Before(c.ExpiresAt)
}

// OneTimeToken backs email verification and password reset links.
type OneTimeToken struct {
	Token     string
	AccountID string
	ExpiresAt time.Time
	Used      bool
	CreatedAt time.Time
}

type AuditAction string

const (
	AuditLoginSuccess           AuditAction = "LOGIN_SUCCESS"
	AuditLoginFailed            AuditAction = "LOGIN_FAILED"
	AuditAccountLocked          AuditAction = "ACCOUNT_LOCKED"
	AuditLogout                 AuditAction = "LOGOUT"
	AuditLogoutAll              AuditAction = "LOGOUT_ALL"
	AuditOAuthLogin             AuditAction = "OAUTH_LOGIN"
	AuditEmailVerified          AuditAction = "EMAIL_VERIFIED"
	AuditPasswordChanged        AuditAction = "PASSWORD_CHANGED"
	AuditPasswordResetRequested AuditAction = "PASSWORD_RESET_REQUESTED"
)

type AuditEntry struct {
	ID        string
	AccountID string // empty when the actor is unknown
	Action    AuditAction
	Metadata  map[string]string
	IP        string
	UserAgent string
	CreatedAt time.Time
}

// ClientInfo is what the transport knows about the caller.
type ClientInfo struct {
	IP        string
	UserAgent string
}

type Profile struct {
	FirstName string
	LastName  string
}

// FederatedProfile is the verified identity returned by an OAuth2 provider.
type FederatedProfile struct {
	Provider  Provider
	Subject   string
	Email     string
	FirstName string
	LastName  string
	AvatarURL string
}

type AccountSummary struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	FirstName     string `json:"first_name,omitempty"`
	LastName      string `json:"last_name,omitempty"`
	AvatarURL     string `json:"avatar_url,omitempty"`
	Role          Role   `json:"role"`
	EmailVerified bool   `json:"email_verified"`
}

func (a Account) Summary() AccountSummary {
	return AccountSummary{
		ID:            a.ID,
		Email:         a.Email,
		FirstName:     a.FirstName,
		LastName:      a.LastName,
		AvatarURL:     a.AvatarURL,
		Role:          a.Role,
		EmailVerified: a.EmailVerified,
	}
}

type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

type AuthResult struct {
	Tokens
	Account AccountSummary `json:"user"`
}

type CleanupResult struct {
	DeletedExpiredSessions     int64 `json:"deleted_expired_sessions"`
	DeletedRevokedSessions     int64 `json:"deleted_revoked_sessions"`
	DeletedAuthorizationCodes  int64 `json:"deleted_authorization_codes"`
	DeletedVerificationTokens  int64 `json:"deleted_verification_tokens"`
	DeletedPasswordResetTokens int64 `json:"deleted_password_reset_tokens"`
}
