package history

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
)

// ErrInvalidToken reports a continuation token that failed decoding, tag
// verification, or shape checks. Callers surface it as a client error rather
// than silently restarting the query.
var ErrInvalidToken = errors.New("invalid continuation token")

const tokenTagLen = 16

// tokenPayload is the resume position a continuation token carries. The
// window upper bound travels with the token so every page of one traversal
// shares the first page's notion of "now".
type tokenPayload struct {
	upperMs int64
	lastKey []byte
}

func encodeToken(secret []byte, p tokenPayload) string {
	buf := make([]byte, 8, 8+len(p.lastKey)+tokenTagLen)
	binary.BigEndian.PutUint64(buf, uint64(p.upperMs))
	buf = append(buf, p.lastKey...)

	mac := hmac.New(sha256.New, secret)
	mac.Write(buf)
	buf = append(buf, mac.Sum(nil)[:tokenTagLen]...)
	return base64.RawURLEncoding.EncodeToString(buf)
}

func decodeToken(secret []byte, token string) (tokenPayload, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return tokenPayload{}, ErrInvalidToken
	}
	if len(raw) < 8+tokenTagLen {
		return tokenPayload{}, ErrInvalidToken
	}
	body, tag := raw[:len(raw)-tokenTagLen], raw[len(raw)-tokenTagLen:]

	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	if !hmac.Equal(tag, mac.Sum(nil)[:tokenTagLen]) {
		return tokenPayload{}, ErrInvalidToken
	}
	p := tokenPayload{upperMs: int64(binary.BigEndian.Uint64(body[:8]))}
	if len(body) > 8 {
		p.lastKey = append([]byte(nil), body[8:]...)
	}
	if p.upperMs <= 0 || len(p.lastKey) == 0 {
		return tokenPayload{}, ErrInvalidToken
	}
	return p, nil
}
