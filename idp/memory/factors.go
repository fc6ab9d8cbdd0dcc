package memory

import (
	"context"
	"sort"

	"github.com/MrEthical07/goAuthCore/mfa"
	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

var totpValidateOpts = totp.ValidateOpts{
	Period:    30,
	Skew:      1,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// ListFactors returns the caller's factors, oldest first.
func (p *Provider) ListFactors(ctx context.Context) ([]mfa.Factor, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	u, _, err := p.authenticateLocked(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]mfa.Factor, 0, len(u.factors))
	for _, f := range u.factors {
		out = append(out, f.info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// EnrollTOTPFactor creates an unverified TOTP factor with a fresh secret.
func (p *Provider) EnrollTOTPFactor(ctx context.Context, friendlyName string) (mfa.FactorEnrollment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	u, _, err := p.authenticateLocked(ctx)
	if err != nil {
		return mfa.FactorEnrollment{}, err
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      p.opts.Issuer,
		AccountName: u.email,
		Period:      totpValidateOpts.Period,
		Digits:      totpValidateOpts.Digits,
		Algorithm:   totpValidateOpts.Algorithm,
	})
	if err != nil {
		return mfa.FactorEnrollment{}, err
	}

	id := uuid.NewString()
	u.factors[id] = &factor{
		info: mfa.Factor{
			ID:           id,
			Type:         mfa.FactorTOTP,
			Status:       mfa.FactorUnverified,
			FriendlyName: friendlyName,
			CreatedAt:    p.opts.Clock.Now().UTC(),
		},
		secret: key.Secret(),
	}
	return mfa.FactorEnrollment{FactorID: id, Secret: key.Secret()}, nil
}

// UnenrollFactor removes one of the caller's factors.
func (p *Provider) UnenrollFactor(ctx context.Context, factorID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	u, _, err := p.authenticateLocked(ctx)
	if err != nil {
		return err
	}
	if _, ok := u.factors[factorID]; !ok {
		return ErrFactorNotFound
	}
	delete(u.factors, factorID)
	for id, c := range p.challenges {
		if c.factorID == factorID {
			delete(p.challenges, id)
		}
	}
	return nil
}

// ChallengeFactor opens a short-lived challenge for one of the caller's factors.
func (p *Provider) ChallengeFactor(ctx context.Context, factorID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	u, _, err := p.authenticateLocked(ctx)
	if err != nil {
		return "", err
	}
	if _, ok := u.factors[factorID]; !ok {
		return "", ErrFactorNotFound
	}

	id := uuid.NewString()
	p.challenges[id] = challenge{
		userID:    u.id,
		factorID:  factorID,
		expiresAt: p.opts.Clock.Now().Add(p.opts.ChallengeTTL),
	}
	return id, nil
}

// VerifyChallenge checks code against the factor's secret and marks the factor
// verified. The challenge is consumed whether or not the code matches.
func (p *Provider) VerifyChallenge(ctx context.Context, factorID, challengeID, code string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	u, _, err := p.authenticateLocked(ctx)
	if err != nil {
		return err
	}

	c, ok := p.challenges[challengeID]
	delete(p.challenges, challengeID)
	now := p.opts.Clock.Now()
	if !ok || c.userID != u.id || c.factorID != factorID || !c.expiresAt.After(now) {
		return ErrChallengeExpired
	}

	f, ok := u.factors[factorID]
	if !ok {
		return ErrFactorNotFound
	}
	valid, err := totp.ValidateCustom(code, f.secret, now.UTC(), totpValidateOpts)
	if err != nil || !valid {
		return mfa.ErrCodeMismatch
	}
	f.info.Status = mfa.FactorVerified
	return nil
}

// GetProfileMetadata returns a copy of the caller's profile metadata.
func (p *Provider) GetProfileMetadata(ctx context.Context) (map[string]any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	u, _, err := p.authenticateLocked(ctx)
	if err != nil {
		return nil, err
	}
	return cloneMap(u.metadata), nil
}

// UpdateProfileMetadata merges patch into the caller's metadata. A nil value
// deletes the key.
func (p *Provider) UpdateProfileMetadata(ctx context.Context, patch map[string]any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	u, _, err := p.authenticateLocked(ctx)
	if err != nil {
		return err
	}
	mergeMetadata(u.metadata, patch)
	return nil
}

// GenerateCode returns the current TOTP code for a factor. It exists for tests
// and demos that stand in for an authenticator app.
func (p *Provider) GenerateCode(userID, factorID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	u, ok := p.users[userID]
	if !ok {
		return "", ErrFactorNotFound
	}
	f, ok := u.factors[factorID]
	if !ok {
		return "", ErrFactorNotFound
	}
	return totp.GenerateCodeCustom(f.secret, p.opts.Clock.Now().UTC(), totpValidateOpts)
}

func mergeMetadata(dst, patch map[string]any) {
	for k, v := range patch {
		if v == nil {
			delete(dst, k)
			continue
		}
		dst[k] = v
	}
}
