package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"
)

const (
	sessionFormatVersionCurrent = 1
	sessionFormatVersionV1      = 1
)

// CurrentSchemaVersion is the format version written by [Encode].
const CurrentSchemaVersion = sessionFormatVersionCurrent

var errTokenTooLong = errors.New("token too long")

// Encode serializes s into the compact binary form used by [RedisStore].
//
// Layout (v1): version byte, uint16 length + access token, uint16 length + refresh
// token, int64 ExpiresIn seconds, int64 ExpiresAt unix milliseconds. All integers
// are big-endian.
func Encode(s Session) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(1 + 2 + len(s.AccessToken) + 2 + len(s.RefreshToken) + 16)

	buf.WriteByte(sessionFormatVersionCurrent)

	if err := writeString(&buf, s.AccessToken); err != nil {
		return nil, fmt.Errorf("access %w", err)
	}
	if err := writeString(&buf, s.RefreshToken); err != nil {
		return nil, fmt.Errorf("refresh %w", err)
	}
	if err := binary.Write(&buf, binary.BigEndian, s.ExpiresIn); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, s.ExpiresAt.UnixMilli()); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Decode parses data produced by [Encode].
func Decode(data []byte) (Session, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return Session{}, err
	}
	if version != sessionFormatVersionV1 {
		return Session{}, fmt.Errorf("unsupported session schema version %d", version)
	}

	var s Session
	if s.AccessToken, err = readString(reader); err != nil {
		return Session{}, err
	}
	if s.RefreshToken, err = readString(reader); err != nil {
		return Session{}, err
	}
	if err := binary.Read(reader, binary.BigEndian, &s.ExpiresIn); err != nil {
		return Session{}, err
	}
	var expiresAtMillis int64
	if err := binary.Read(reader, binary.BigEndian, &expiresAtMillis); err != nil {
		return Session{}, err
	}
	s.ExpiresAt = time.UnixMilli(expiresAtMillis)

	if reader.Len() != 0 {
		return Session{}, errors.New("trailing bytes after session")
	}

	return s, nil
}

func writeString(buf *bytes.Buffer, s string) error {
	if len(s) > math.MaxUint16 {
		return errTokenTooLong
	}
	var n [2]byte
	binary.BigEndian.PutUint16(n[:], uint16(len(s)))
	buf.Write(n[:])
	buf.WriteString(s)
	return nil
}

func readString(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	if int(n) > r.Len() {
		return "", io.ErrUnexpectedEOF
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
