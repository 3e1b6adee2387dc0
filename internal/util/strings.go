// Package util provides small helpers shared across the authcore packages.
//
// Key utilities:
//   - SafeTruncate: safely truncates strings when logging sensitive values
package util

// SafeTruncate safely truncates a string to maxLen characters without
// panicking. Used when logging sensitive values like codes and tokens,
// where only a prefix should ever appear in logs.
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
