package session

import "time"

// Session is the access/refresh token pair issued by the identity provider and its
// expiry. ExpiresIn is the lifetime in seconds as reported at issue time; ExpiresAt
// is the absolute deadline.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int64     `json:"expires_in"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// New builds a Session issued at now with the given lifetime in seconds.
func New(accessToken, refreshToken string, expiresIn int64, now time.Time) Session {
	return Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    expiresIn,
		ExpiresAt:    now.Add(time.Duration(expiresIn) * time.Second),
	}
}

// IsZero reports whether s carries no tokens.
func (s Session) IsZero() bool {
	return s.AccessToken == "" && s.RefreshToken == ""
}

// Lifetime returns ExpiresIn as a duration.
func (s Session) Lifetime() time.Duration {
	return time.Duration(s.ExpiresIn) * time.Second
}

// Expired reports whether the session is past its absolute deadline.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// RefreshAt returns the instant at which a refresh should fire for the given ratio,
// measured back from ExpiresAt so it stays correct after a restore.
func (s Session) RefreshAt(ratio float64) time.Time {
	remaining := time.Duration(float64(s.Lifetime()) * (1 - ratio))
	return s.ExpiresAt.Add(-remaining)
}
