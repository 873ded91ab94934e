// Package validation holds the pure input guards used at every service
// boundary before storage is touched.
package validation

import "regexp"

// A single label plus an alphabetic TLD of two or more letters. Subdomains
// are rejected: every registrable zone is its own directory root.
var domainRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9-]{1,61}[a-zA-Z0-9]\.[a-zA-Z]{2,}$`)

var hexRegex = regexp.MustCompile(`^[a-fA-F0-9]+$`)

// IsValidDomain reports whether s is a registrable directory domain.
func IsValidDomain(s string) bool {
	return len(s) <= 253 && domainRegex.MatchString(s)
}

// IsValidKey reports whether s is a hex string encoding exactly byteLen bytes.
// Both cases are accepted; keys are normalized elsewhere.
func IsValidKey(s string, byteLen int) bool {
	return len(s) == byteLen*2 && hexRegex.MatchString(s)
}
