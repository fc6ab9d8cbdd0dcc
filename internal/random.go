package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
)

// SessionID identifies a server-side session in the in-memory identity provider.
type SessionID [16]byte

const (
	opaqueSecretSize   = 32
	opaqueTokenRawSize = len(SessionID{}) + opaqueSecretSize
)

// ErrMalformedToken is returned for opaque tokens that do not decode.
var ErrMalformedToken = errors.New("malformed opaque token")

func NewSessionID() (SessionID, error) {
	var sid SessionID
	_, err := rand.Read(sid[:])
	return sid, err
}

func (s SessionID) String() string {
	// base64url, no padding, compact
	return base64.RawURLEncoding.EncodeToString(s[:])
}

func ParseSessionID(sessionID string) (SessionID, error) {
	var sid SessionID

	raw, err := base64.RawURLEncoding.DecodeString(sessionID)
	if err != nil {
		return sid, err
	}
	if len(raw) != len(sid) {
		return sid, errors.New("invalid session id size")
	}

	copy(sid[:], raw)
	return sid, nil
}

// NewOpaqueToken mints a token carrying sid and a fresh random secret. Only the
// returned hash should be stored.
func NewOpaqueToken(sid SessionID) (string, [32]byte, error) {
	var raw [opaqueTokenRawSize]byte
	copy(raw[:len(sid)], sid[:])
	if _, err := rand.Read(raw[len(sid):]); err != nil {
		return "", [32]byte{}, err
	}

	hash := sha256.Sum256(raw[len(sid):])
	return base64.RawURLEncoding.EncodeToString(raw[:]), hash, nil
}

// DecodeOpaqueToken splits token into its session id and the hash of its secret.
func DecodeOpaqueToken(token string) (SessionID, [32]byte, error) {
	var sid SessionID

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) != opaqueTokenRawSize {
		return sid, [32]byte{}, ErrMalformedToken
	}

	copy(sid[:], raw[:len(sid)])
	return sid, sha256.Sum256(raw[len(sid):]), nil
}

// HashesEqual compares two secret hashes in constant time.
func HashesEqual(a, b [32]byte) bool {
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}
