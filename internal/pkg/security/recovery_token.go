package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/faustinowatschinger/recurBoost-next/internal/pkg/env"
)

// GenerateRecoveryToken derives the per-case capability token embedded in
// outreach links. It is an integrity check, not a secret-bearing value.
func GenerateRecoveryToken(caseUUID string) (string, error) {
	secret := tokenSecret()
	if secret == "" {
		return "", errors.New("secret is required for token generation")
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(caseUUID))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifyRecoveryToken checks a presented token against the expected HMAC
// in constant time.
func VerifyRecoveryToken(caseUUID, token string) bool {
	expected, err := GenerateRecoveryToken(caseUUID)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(strings.TrimSpace(token)))
}

func tokenSecret() string {
	return strings.TrimSpace(env.GetEnv("APP_ENCRYPTION_KEY", ""))
}
