package memory

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	goAuthCore "github.com/MrEthical07/goAuthCore"
	"github.com/MrEthical07/goAuthCore/internal/token"
	"github.com/MrEthical07/goAuthCore/mfa"
	"github.com/MrEthical07/goAuthCore/password"
	"github.com/MrEthical07/goAuthCore/session"
	"github.com/google/uuid"
)

var (
	// ErrEmailTaken is returned when an email is already registered to another user.
	ErrEmailTaken = errors.New("email already registered")
	// ErrInvalidRefreshToken is returned for unknown, revoked or expired refresh tokens.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	// ErrRefreshTokenReused is returned when a rotated refresh token is presented
	// again. The whole session is revoked.
	ErrRefreshTokenReused = errors.New("refresh token reuse detected")
	// ErrFactorNotFound is returned for a factor id the user does not own.
	ErrFactorNotFound = errors.New("factor not found")
	// ErrChallengeExpired is returned for unknown or expired challenges.
	ErrChallengeExpired = errors.New("challenge expired")
	// ErrInvalidResetToken is returned by ConfirmPasswordReset.
	ErrInvalidResetToken = errors.New("invalid password reset token")
	// ErrUnknownRole is returned by Grant for an unregistered role.
	ErrUnknownRole = errors.New("unknown role")
)

// Mailer delivers password reset tokens.
type Mailer interface {
	SendPasswordReset(ctx context.Context, email, token string) error
}

// MailerFunc adapts a function to [Mailer].
type MailerFunc func(ctx context.Context, email, token string) error

// SendPasswordReset calls f.
func (f MailerFunc) SendPasswordReset(ctx context.Context, email, token string) error {
	return f(ctx, email, token)
}

// Options configures a [Provider]. Zero fields take defaults.
type Options struct {
	Clock  session.Clock
	Logger *slog.Logger

	// AccessTTL is the access token lifetime reported as expires_in. Default 1h.
	AccessTTL time.Duration
	// RefreshTTL bounds how long a session can be refreshed. Default 30 days.
	RefreshTTL time.Duration
	// SigningKey signs access tokens. A fresh key is generated when nil.
	SigningKey ed25519.PrivateKey
	// Issuer is the JWT issuer and the TOTP issuer. Default "goAuthCore".
	Issuer string

	Password password.Config
	Lockout  LockoutConfig
	// Counter stores failed sign-in counts. Default is in-process.
	Counter LockoutCounter

	// ChallengeTTL bounds a TOTP challenge. Default 5m.
	ChallengeTTL time.Duration
	// ResetTTL bounds a password reset token. Default 1h.
	ResetTTL time.Duration
	Mailer   Mailer

	// ImpersonationSessions mints a session for the target of an impersonation.
	ImpersonationSessions bool
}

type user struct {
	id           string
	email        string
	displayName  string
	active       bool
	passwordHash string
	metadata     map[string]any
	factors      map[string]*factor
	// grants maps tenant id ("" for system) to role ids in grant order.
	grants      map[string][]string
	tenants     []string
	currentRole map[string]string
}

type factor struct {
	info   mfa.Factor
	secret string
}

type challenge struct {
	userID    string
	factorID  string
	expiresAt time.Time
}

type sessionRecord struct {
	userID      string
	refreshHash [32]byte
	expiresAt   time.Time
	revoked     bool
}

type resetRecord struct {
	userID    string
	hash      [32]byte
	expiresAt time.Time
}

// Provider is an in-process identity provider and directory. It implements both
// goAuthCore.IdentityProvider and goAuthCore.Directory and is safe for
// concurrent use.
type Provider struct {
	opts    Options
	tokens  *token.Manager
	hasher  *password.Argon2
	counter LockoutCounter
	logger  *slog.Logger

	// dummyHash keeps unknown-email sign-ins as slow as wrong-password ones.
	dummyHash string

	mu         sync.Mutex
	users      map[string]*user
	byEmail    map[string]string
	tenants    map[string]goAuthCore.Tenant
	roles      map[string]goAuthCore.Role
	sessions   map[string]*sessionRecord
	challenges map[string]challenge
	resets     map[string]resetRecord
}

var (
	_ goAuthCore.IdentityProvider = (*Provider)(nil)
	_ goAuthCore.Directory        = (*Provider)(nil)
)

// New returns an empty Provider.
func New(opts Options) (*Provider, error) {
	if opts.Clock == nil {
		opts.Clock = session.SystemClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = time.Hour
	}
	if opts.RefreshTTL <= 0 {
		opts.RefreshTTL = 30 * 24 * time.Hour
	}
	if opts.Issuer == "" {
		opts.Issuer = "goAuthCore"
	}
	if opts.ChallengeTTL <= 0 {
		opts.ChallengeTTL = 5 * time.Minute
	}
	if opts.ResetTTL <= 0 {
		opts.ResetTTL = time.Hour
	}
	if opts.Password == (password.Config{}) {
		opts.Password = password.DefaultConfig()
	}
	if opts.SigningKey == nil {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate signing key: %w", err)
		}
		opts.SigningKey = priv
	}

	tokens, err := token.NewManager(token.Config{
		AccessTTL:     opts.AccessTTL,
		SigningMethod: token.MethodEd25519,
		PrivateKey:    opts.SigningKey,
		Issuer:        opts.Issuer,
		Now:           opts.Clock.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("token manager: %w", err)
	}

	hasher, err := password.NewArgon2(opts.Password)
	if err != nil {
		return nil, fmt.Errorf("password hasher: %w", err)
	}
	dummyLen := opts.Password.MinPasswordBytes
	if dummyLen == 0 {
		dummyLen = password.DefaultMinPasswordBytes
	}
	dummy, err := hasher.Hash(strings.Repeat("d", dummyLen))
	if err != nil {
		return nil, fmt.Errorf("password hasher: %w", err)
	}

	counter := opts.Counter
	if counter == nil {
		counter = NewMemoryCounter(opts.Clock, opts.Lockout.Window)
	}

	return &Provider{
		opts:       opts,
		tokens:     tokens,
		hasher:     hasher,
		counter:    counter,
		logger:     opts.Logger.With("component", "idp.memory"),
		dummyHash:  dummy,
		users:      make(map[string]*user),
		byEmail:    make(map[string]string),
		tenants:    make(map[string]goAuthCore.Tenant),
		roles:      make(map[string]goAuthCore.Role),
		sessions:   make(map[string]*sessionRecord),
		challenges: make(map[string]challenge),
		resets:     make(map[string]resetRecord),
	}, nil
}

/*
====================================
SEEDING
====================================
*/

// NewUser describes a user to register with AddUser.
type NewUser struct {
	ID          string
	Email       string
	Password    string
	DisplayName string
	// Disabled users cannot sign in.
	Disabled bool
	Metadata map[string]any
}

// AddUser registers a user and returns its id. A random UUID is assigned when
// ID is empty.
func (p *Provider) AddUser(nu NewUser) (string, error) {
	email := normalizeEmail(nu.Email)
	if email == "" {
		return "", goAuthCore.ErrInvalidEmail
	}
	hash, err := p.hasher.Hash(nu.Password)
	if err != nil {
		return "", err
	}

	id := nu.ID
	if id == "" {
		id = uuid.NewString()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.byEmail[email]; ok {
		return "", ErrEmailTaken
	}
	if _, ok := p.users[id]; ok {
		return "", fmt.Errorf("user %q already exists", id)
	}

	display := nu.DisplayName
	if display == "" {
		display = email
	}
	p.users[id] = &user{
		id:           id,
		email:        email,
		displayName:  display,
		active:       !nu.Disabled,
		passwordHash: hash,
		metadata:     cloneMap(nu.Metadata),
		factors:      make(map[string]*factor),
		grants:       make(map[string][]string),
		currentRole:  make(map[string]string),
	}
	p.byEmail[email] = id
	return id, nil
}

// AddTenant registers or replaces a tenant.
func (p *Provider) AddTenant(t goAuthCore.Tenant) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t.Settings = cloneMap(t.Settings)
	p.tenants[t.ID] = t
}

// AddRole registers or replaces a role. Roles with an empty TenantID are system
// roles.
func (p *Provider) AddRole(r goAuthCore.Role) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r.IsSystemRole = r.TenantID == ""
	p.roles[r.ID] = cloneRole(r)
}

// Grant gives userID the role roleID, adding tenant membership for tenant roles.
func (p *Provider) Grant(userID, roleID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	u, ok := p.users[userID]
	if !ok {
		return goAuthCore.ErrUserNotFound
	}
	r, ok := p.roles[roleID]
	if !ok {
		return ErrUnknownRole
	}
	if r.TenantID != "" {
		if _, ok := p.tenants[r.TenantID]; !ok {
			return goAuthCore.ErrTenantNotAvailable
		}
		if !containsString(u.tenants, r.TenantID) {
			u.tenants = append(u.tenants, r.TenantID)
		}
	}
	if !containsString(u.grants[r.TenantID], roleID) {
		u.grants[r.TenantID] = append(u.grants[r.TenantID], roleID)
	}
	return nil
}

// SetActive enables or disables a user. Disabling revokes every session.
func (p *Provider) SetActive(userID string, active bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	u, ok := p.users[userID]
	if !ok {
		return goAuthCore.ErrUserNotFound
	}
	u.active = active
	if !active {
		p.revokeUserSessionsLocked(userID)
	}
	return nil
}

// ActiveSessions returns the number of live sessions for userID.
func (p *Provider) ActiveSessions(userID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.opts.Clock.Now()
	n := 0
	for _, rec := range p.sessions {
		if rec.userID == userID && !rec.revoked && rec.expiresAt.After(now) {
			n++
		}
	}
	return n
}

/*
====================================
HELPERS
====================================
*/

func (p *Provider) principalLocked(ctx context.Context, u *user) goAuthCore.Principal {
	failures, err := p.counter.Failures(ctx, u.id)
	if err != nil {
		p.logger.DebugContext(ctx, "read lockout counter failed", "user_id", u.id, "error", err)
	}
	return goAuthCore.Principal{
		ID:                  u.id,
		Email:               u.email,
		DisplayName:         u.displayName,
		Active:              u.active,
		FailedLoginAttempts: failures,
		SecurityPreferences: preferencesFrom(u.metadata),
		Metadata:            cloneMap(u.metadata),
	}
}

func (p *Provider) revokeUserSessionsLocked(userID string) {
	for _, rec := range p.sessions {
		if rec.userID == userID {
			rec.revoked = true
		}
	}
}

func (p *Provider) isSuperadminLocked(u *user) bool {
	for _, id := range u.grants[""] {
		if r, ok := p.roles[id]; ok && r.IsSuperadmin {
			return true
		}
	}
	return false
}

func preferencesFrom(meta map[string]any) goAuthCore.SecurityPreferences {
	flag := func(key string) bool {
		v, _ := meta[key].(bool)
		return v
	}
	return goAuthCore.SecurityPreferences{
		MFAEnabled:           flag(mfa.MetadataMFAEnabled),
		BackupCodesGenerated: flag(mfa.MetadataBackupCodesGenerated),
		RememberDevice:       flag(goAuthCore.MetadataRememberDevice),
		LoginNotifications:   flag(goAuthCore.MetadataLoginNotifications),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneRole(r goAuthCore.Role) goAuthCore.Role {
	r.Permissions = append(r.Permissions[:0:0], r.Permissions...)
	return r
}
