package inbound

import (
	"crypto/subtle"
	"strings"
)

// Sender identifies who delivered an inbound message and any credential they
// attached.
type Sender struct {
	Email  string
	Phone  string
	Secret string
}

// AuthConfig carries the inbound allowlists and shared secret. An empty
// allowlist admits every sender on that channel.
type AuthConfig struct {
	AllowedEmails []string
	AllowedPhones []string
	SharedSecret  string
}

// Authorize reports whether the sender may submit commands. Allowlist checks
// run per channel; a supplied secret must match the configured one in
// constant time.
func Authorize(sender Sender, cfg AuthConfig) bool {
	if !allowed(sender.Email, cfg.AllowedEmails, strings.ToLower) {
		return false
	}
	if !allowed(sender.Phone, cfg.AllowedPhones, func(s string) string { return s }) {
		return false
	}
	if sender.Secret != "" {
		return secureEqual(sender.Secret, cfg.SharedSecret)
	}
	return true
}

func allowed(value string, allowlist []string, normalize func(string) string) bool {
	if value == "" || len(allowlist) == 0 {
		return true
	}
	want := normalize(value)
	for _, entry := range allowlist {
		if normalize(strings.TrimSpace(entry)) == want {
			return true
		}
	}
	return false
}

func secureEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
