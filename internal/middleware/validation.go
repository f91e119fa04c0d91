package middleware

import (
	"errors"
	"strings"
	"unicode/utf8"
)

const maxPathIDLength = 128

// ValidatePathID checks an id taken from the URL path.
func ValidatePathID(field, id string) error {
	if id == "" {
		return errors.New(field + " is required")
	}
	if len(id) > maxPathIDLength {
		return errors.New(field + " exceeds maximum length")
	}
	if !utf8.ValidString(id) || strings.ContainsAny(id, " \t\r\n/") {
		return errors.New(field + " has an invalid format")
	}
	return nil
}

// ValidateTenantID validates a tenant ID.
func ValidateTenantID(id string) error {
	if len(id) == 0 {
		return errors.New("tenant ID cannot be empty")
	}
	if len(id) > 64 {
		return errors.New("tenant ID exceeds maximum length")
	}
	return nil
}
