package rand

import (
	cr "crypto/rand"
	"encoding/base32"
	"encoding/hex"
)

var code32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// ID16 returns a 16 character upper-case code, used for auto-registered devices.
func ID16() string {
	var b [10]byte // 10 raw bytes → 16 base32 chars
	_, _ = cr.Read(b[:])
	return code32.EncodeToString(b[:])
}

// Secret returns a 32 character hex secret.
func Secret() string {
	var b [16]byte
	_, _ = cr.Read(b[:])
	return hex.EncodeToString(b[:])
}
