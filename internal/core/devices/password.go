package devices

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/base64"
	"strconv"
	"strings"
	"time"
)

const saltPrefix = "$sha512$"

// SaltPassword verifies credentials of the form "$sha512$<salt>$<hash>", where
// the salt is the unix second the client hashed at and hash is
// base64(HMAC-SHA512(key=salt, secret)). A hash is only accepted while its
// salt lies within SaltTime of the server clock.
type SaltPassword struct {
	SaltTime time.Duration
}

func NewSaltPassword(window time.Duration) *SaltPassword {
	if window <= 0 {
		window = 60 * time.Second
	}
	return &SaltPassword{SaltTime: window}
}

// Hash produces the credential a client presents for secret at now.
func (p *SaltPassword) Hash(secret string, now time.Time) string {
	salt := strconv.FormatInt(now.Unix(), 10)
	return saltPrefix + salt + "$" + sum(secret, salt)
}

// Verify reports whether presented was hashed from secret inside the window.
func (p *SaltPassword) Verify(secret, presented string, now time.Time) bool {
	rest, ok := strings.CutPrefix(presented, saltPrefix)
	if !ok {
		return false
	}
	salt, hash, ok := strings.Cut(rest, "$")
	if !ok {
		return false
	}
	ts, err := strconv.ParseInt(salt, 10, 64)
	if err != nil {
		return false
	}
	skew := now.Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > p.SaltTime {
		return false
	}
	return hmac.Equal([]byte(hash), []byte(sum(secret, salt)))
}

func sum(secret, salt string) string {
	mac := hmac.New(sha512.New, []byte(salt))
	mac.Write([]byte(secret))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
