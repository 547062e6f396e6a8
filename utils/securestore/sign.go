package securestore

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// SignExpiring 对 resource 与过期时间做 HMAC-SHA256，返回 hex 签名。
func SignExpiring(key []byte, resource string, expires time.Time) (string, error) {
	if len(key) != 32 {
		return "", fmt.Errorf("invalid key length: %d", len(key))
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(resource))
	mac.Write([]byte{0})
	mac.Write([]byte(strconv.FormatInt(expires.Unix(), 10)))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifyExpiring 校验签名，并要求 now 早于过期时间。
func VerifyExpiring(key []byte, resource string, expiresUnix int64, signature string, now time.Time) error {
	if now.Unix() >= expiresUnix {
		return fmt.Errorf("signature expired")
	}
	expected, err := SignExpiring(key, resource, time.Unix(expiresUnix, 0))
	if err != nil {
		return err
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("malformed signature")
	}
	want, _ := hex.DecodeString(expected)
	if !hmac.Equal(got, want) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}
