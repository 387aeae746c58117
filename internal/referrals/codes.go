// Package referrals implements referral codes and the
// pending/completed/rewarded/expired referral lifecycle.
package referrals

import "crypto/rand"

// ReferralDiscountPercent is the referee's discount for applying a code.
const ReferralDiscountPercent = 10

const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NewCode mints a share code like "GL-7KWQ2M". The alphabet drops the
// characters commonly misread (0/O, 1/I).
func NewCode() string {
	buf := make([]byte, 6)
	_, _ = rand.Read(buf)
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return "GL-" + string(buf)
}
