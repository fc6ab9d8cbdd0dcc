package memory

import (
	"context"
	"fmt"

	goAuthCore "github.com/MrEthical07/goAuthCore"
	"github.com/MrEthical07/goAuthCore/internal"
	"github.com/MrEthical07/goAuthCore/session"
)

// SignInWithPassword verifies the password and opens a new session. Failed
// attempts count towards lockout when it is enabled.
func (p *Provider) SignInWithPassword(ctx context.Context, email, pw string) (goAuthCore.SignInResult, error) {
	email = normalizeEmail(email)

	p.mu.Lock()
	id, ok := p.byEmail[email]
	var u *user
	if ok {
		u = p.users[id]
	}
	p.mu.Unlock()

	if u == nil {
		_, _ = p.hasher.Verify(pw, p.dummyHash)
		return goAuthCore.SignInResult{}, goAuthCore.ErrInvalidCredentials
	}

	if p.opts.Lockout.Enabled {
		failures, err := p.counter.Failures(ctx, u.id)
		if err != nil {
			return goAuthCore.SignInResult{}, err
		}
		if failures >= p.opts.Lockout.Threshold {
			return goAuthCore.SignInResult{}, goAuthCore.ErrAccountLocked
		}
	}

	p.mu.Lock()
	hash := u.passwordHash
	p.mu.Unlock()

	match, err := p.hasher.Verify(pw, hash)
	if err != nil || !match {
		return goAuthCore.SignInResult{}, p.recordFailure(ctx, u.id)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !u.active {
		return goAuthCore.SignInResult{}, goAuthCore.ErrAccountDisabled
	}
	if p.opts.Lockout.Enabled {
		if err := p.counter.Reset(ctx, u.id); err != nil {
			p.logger.WarnContext(ctx, "reset lockout counter failed", "user_id", u.id, "error", err)
		}
	}
	if upgrade, _ := p.hasher.NeedsUpgrade(u.passwordHash); upgrade {
		if rehashed, err := p.hasher.Hash(pw); err == nil {
			u.passwordHash = rehashed
		}
	}

	sess, err := p.issueLocked(u)
	if err != nil {
		return goAuthCore.SignInResult{}, err
	}
	return goAuthCore.SignInResult{Session: sess, Principal: p.principalLocked(ctx, u)}, nil
}

func (p *Provider) recordFailure(ctx context.Context, userID string) error {
	if !p.opts.Lockout.Enabled {
		return goAuthCore.ErrInvalidCredentials
	}
	count, err := p.counter.RecordFailure(ctx, userID)
	if err != nil {
		return err
	}
	if count >= p.opts.Lockout.Threshold {
		p.logger.InfoContext(ctx, "account locked", "user_id", userID, "failures", count)
		return goAuthCore.ErrAccountLocked
	}
	return goAuthCore.ErrInvalidCredentials
}

// SignOut revokes the session behind the access token in ctx.
func (p *Provider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, rec, err := p.authenticateLocked(ctx)
	if err != nil {
		return err
	}
	rec.revoked = true
	return nil
}

// CurrentUser returns the principal behind the access token in ctx.
func (p *Provider) CurrentUser(ctx context.Context) (goAuthCore.Principal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	u, _, err := p.authenticateLocked(ctx)
	if err != nil {
		return goAuthCore.Principal{}, err
	}
	return p.principalLocked(ctx, u), nil
}

// RefreshSession rotates the refresh token and issues a new access token for the
// same session. Presenting an already rotated token revokes the session.
func (p *Provider) RefreshSession(ctx context.Context, refreshToken string) (session.Session, error) {
	sid, hash, err := internal.DecodeOpaqueToken(refreshToken)
	if err != nil {
		return session.Session{}, ErrInvalidRefreshToken
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.sessions[sid.String()]
	if !ok || rec.revoked || !rec.expiresAt.After(p.opts.Clock.Now()) {
		return session.Session{}, ErrInvalidRefreshToken
	}
	if !internal.HashesEqual(rec.refreshHash, hash) {
		rec.revoked = true
		p.logger.WarnContext(ctx, "refresh token reuse, session revoked", "user_id", rec.userID)
		return session.Session{}, ErrRefreshTokenReused
	}

	u, ok := p.users[rec.userID]
	if !ok {
		return session.Session{}, goAuthCore.ErrUserNotFound
	}
	if !u.active {
		rec.revoked = true
		return session.Session{}, goAuthCore.ErrAccountDisabled
	}

	return p.rotateLocked(sid, rec, u)
}

// issueLocked opens a new server-side session for u.
func (p *Provider) issueLocked(u *user) (session.Session, error) {
	sid, err := internal.NewSessionID()
	if err != nil {
		return session.Session{}, fmt.Errorf("session id: %w", err)
	}
	rec := &sessionRecord{
		userID:    u.id,
		expiresAt: p.opts.Clock.Now().Add(p.opts.RefreshTTL),
	}
	p.sessions[sid.String()] = rec
	return p.rotateLocked(sid, rec, u)
}

func (p *Provider) rotateLocked(sid internal.SessionID, rec *sessionRecord, u *user) (session.Session, error) {
	refresh, hash, err := internal.NewOpaqueToken(sid)
	if err != nil {
		return session.Session{}, fmt.Errorf("refresh token: %w", err)
	}
	access, _, err := p.tokens.Issue(u.id, sid.String(), u.email)
	if err != nil {
		return session.Session{}, fmt.Errorf("access token: %w", err)
	}
	rec.refreshHash = hash

	ttl := p.tokens.TTL()
	return session.New(access, refresh, int64(ttl.Seconds()), p.opts.Clock.Now()), nil
}

// authenticateLocked resolves the access token in ctx to a live session.
func (p *Provider) authenticateLocked(ctx context.Context) (*user, *sessionRecord, error) {
	raw := goAuthCore.AccessTokenFromContext(ctx)
	if raw == "" {
		return nil, nil, goAuthCore.ErrNotAuthenticated
	}
	claims, err := p.tokens.Parse(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", goAuthCore.ErrNotAuthenticated, err)
	}

	rec, ok := p.sessions[claims.SID]
	if !ok || rec.revoked || rec.userID != claims.UID {
		return nil, nil, goAuthCore.ErrNotAuthenticated
	}
	u, ok := p.users[claims.UID]
	if !ok {
		return nil, nil, goAuthCore.ErrUserNotFound
	}
	if !u.active {
		return nil, nil, goAuthCore.ErrAccountDisabled
	}
	return u, rec, nil
}
