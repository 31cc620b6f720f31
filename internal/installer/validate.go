package installer

import (
	"net"
	"unicode"
)

// ValidIP reports whether s is a literal IPv4 address.
func ValidIP(s string) bool {
	ip := net.ParseIP(s)
	return ip != nil && ip.To4() != nil
}

// ValidRDPPassword reports whether pw meets the Windows account policy
// enforced by the install script: at least 8 characters with an uppercase
// letter, a lowercase letter, and a digit.
func ValidRDPPassword(pw string) bool {
	if len(pw) < 8 {
		return false
	}
	var upper, lower, digit bool
	for _, r := range pw {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	return upper && lower && digit
}
