// Package referral extracts partner referrals from onboarding payloads.
package referral

import "regexp"

// tokenPattern matches partner_<digits> as a whole token. The prefix may not
// follow a word character and the digit run, at most 64 digits to fit a chat
// id, may not continue into one.
var tokenPattern = regexp.MustCompile(`(?i)(?:^|[^A-Za-z0-9_])partner_([0-9]{1,64})(?:$|[^A-Za-z0-9_])`)

// Resolve returns the partner id carried by text. It does not check that the
// partner exists.
func Resolve(text string) (string, bool) {
	m := tokenPattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}
