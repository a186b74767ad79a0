package stripeapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultSignatureTolerance bounds how old a signed payload may be.
const DefaultSignatureTolerance = 5 * time.Minute

// VerifySignature checks a Stripe-Signature header ("t=...,v1=...") against
// the endpoint secret. The signed payload is "<t>.<body>" with HMAC-SHA256.
func VerifySignature(payload []byte, signatureHeader, webhookSecret string, tolerance time.Duration) bool {
	return verifySignatureAt(payload, signatureHeader, webhookSecret, tolerance, time.Now())
}

func verifySignatureAt(payload []byte, signatureHeader, webhookSecret string, tolerance time.Duration, now time.Time) bool {
	header := strings.TrimSpace(signatureHeader)
	secret := strings.TrimSpace(webhookSecret)
	if header == "" || secret == "" {
		return false
	}

	var timestamp int64 = -1
	var candidates [][]byte
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			ts, err := strconv.ParseInt(kv[1], 10, 64)
			if err != nil {
				return false
			}
			timestamp = ts
		case "v1":
			sig, err := hex.DecodeString(kv[1])
			if err == nil {
				candidates = append(candidates, sig)
			}
		}
	}
	if timestamp < 0 || len(candidates) == 0 {
		return false
	}

	if tolerance > 0 {
		age := now.Sub(time.Unix(timestamp, 0))
		if age > tolerance || age < -tolerance {
			return false
		}
	}

	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(payload)
	expected := mac.Sum(nil)

	for _, sig := range candidates {
		if hmac.Equal(expected, sig) {
			return true
		}
	}
	return false
}

// SignPayload produces a valid Stripe-Signature header for a payload.
// Used by tests and local tooling.
func SignPayload(payload []byte, webhookSecret string, at time.Time) string {
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	fmt.Fprintf(mac, "%d.", at.Unix())
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(mac.Sum(nil)))
}
