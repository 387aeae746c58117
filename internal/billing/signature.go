// Package billing processes payment-provider webhooks: signature
// verification, at-most-once event handling, and the order/subscription
// state changes those events drive.
package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

// SignatureTolerance bounds how old a signed timestamp may be before the
// delivery is rejected as a possible replay.
const SignatureTolerance = 5 * time.Minute

var ErrSignatureInvalid = errors.New("webhook signature invalid")

// ComputeSignature computes the provider's v1 HMAC-SHA256 signature over
// "{timestamp}.{payload}".
func ComputeSignature(timestamp int64, payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignatureHeader renders the Stripe-Signature header value for a payload.
// Used by tests and the local webhook replay tool.
func SignatureHeader(timestamp int64, payload []byte, secret string) string {
	return "t=" + strconv.FormatInt(timestamp, 10) + ",v1=" + ComputeSignature(timestamp, payload, secret)
}

// VerifySignature checks a Stripe-Signature header (`t=<ts>,v1=<sig>`)
// against the payload. The comparison is constant time and any v1
// candidate in the header may match, mirroring provider behavior during
// secret rotation.
func VerifySignature(payload []byte, header, secret string, now time.Time) error {
	var timestamp int64 = -1
	var candidates []string

	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return ErrSignatureInvalid
			}
			timestamp = ts
		case "v1":
			candidates = append(candidates, v)
		}
	}

	if timestamp < 0 || len(candidates) == 0 {
		return ErrSignatureInvalid
	}

	age := now.Sub(time.Unix(timestamp, 0))
	if age > SignatureTolerance || age < -SignatureTolerance {
		return ErrSignatureInvalid
	}

	expected := []byte(ComputeSignature(timestamp, payload, secret))
	for _, candidate := range candidates {
		if hmac.Equal(expected, []byte(candidate)) {
			return nil
		}
	}

	return ErrSignatureInvalid
}
