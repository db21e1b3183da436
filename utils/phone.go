package utils

import (
	"strings"

	"github.com/ttacon/libphonenumber"
)

const defaultPhoneRegion = "KE"

// NormalizePhone formats a phone number to E.164 for gateway payloads.
// Unparseable numbers are returned unchanged rather than dropped.
func NormalizePhone(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	num, err := libphonenumber.Parse(trimmed, defaultPhoneRegion)
	if err != nil {
		return trimmed
	}
	if !libphonenumber.IsValidNumber(num) {
		return trimmed
	}
	return libphonenumber.Format(num, libphonenumber.E164)
}
