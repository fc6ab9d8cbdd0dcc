package mfa

import (
	"net/url"

	"github.com/pquerna/otp"
)

// ProvisionURI builds otpauth://totp/{issuer}:{label}?secret={secret}&issuer={issuer}
// with each segment percent-encoded on its own.
func ProvisionURI(issuer, label, secret string) string {
	return "otpauth://totp/" + url.PathEscape(issuer) + ":" + url.PathEscape(label) +
		"?secret=" + url.QueryEscape(secret) + "&issuer=" + url.QueryEscape(issuer)
}

// ValidateURI parses uri as an otpauth key and checks it carries the expected
// issuer and secret.
func ValidateURI(uri, issuer, secret string) error {
	key, err := otp.NewKeyFromURL(uri)
	if err != nil {
		return ErrInvalidURI
	}
	if key.Type() != "totp" || key.Issuer() != issuer || key.Secret() != secret {
		return ErrInvalidURI
	}
	return nil
}
