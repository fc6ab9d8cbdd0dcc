package mfa

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// RecoveryCodeAlphabet omits characters that are easily confused (0/O, 1/I).
const RecoveryCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// GenerateRecoveryCodes returns count fresh codes of length characters, formatted
// with a dash in the middle. randomIndex may be nil.
func GenerateRecoveryCodes(count, length int, randomIndex func(int) (int, error)) ([]RecoveryCode, error) {
	codes := make([]RecoveryCode, 0, count)
	for i := 0; i < count; i++ {
		raw, err := newRecoveryCode(length, randomIndex)
		if err != nil {
			return nil, err
		}
		codes = append(codes, RecoveryCode{Code: FormatRecoveryCode(raw)})
	}
	return codes, nil
}

func newRecoveryCode(length int, randomIndex func(int) (int, error)) (string, error) {
	if randomIndex == nil {
		randomIndex = cryptoRandomIndex
	}
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := randomIndex(len(RecoveryCodeAlphabet))
		if err != nil {
			return "", err
		}
		b.WriteByte(RecoveryCodeAlphabet[n])
	}
	return b.String(), nil
}

// FormatRecoveryCode splits codes of eight or more characters with a dash.
func FormatRecoveryCode(code string) string {
	n := len(code)
	if n < 8 {
		return code
	}
	mid := n / 2
	return code[:mid] + "-" + code[mid:]
}

// CanonicalizeRecoveryCode normalizes user input for comparison.
func CanonicalizeRecoveryCode(code string) string {
	s := strings.ToUpper(strings.TrimSpace(code))
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, " ", "")
	return s
}

func cryptoRandomIndex(max int) (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, err
	}
	return int(n.Int64()), nil
}
