package audit

import (
	"net"
	"time"
)

// ipAnonymizationAge is how long client IPs are kept at full precision
// before GDPR data-minimization truncates them in exported views.
const ipAnonymizationAge = 90 * 24 * time.Hour

// AnonymizeIP truncates an IP address for data minimization.
// IPv4 addresses lose the last octet; IPv6 addresses keep the first 48 bits.
// Returns empty string for unparseable input.
func AnonymizeIP(ipStr string) string {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return ""
	}

	if v4 := ip.To4(); v4 != nil {
		masked := v4.Mask(net.CIDRMask(24, 32))
		return masked.String()
	}

	masked := ip.To16().Mask(net.CIDRMask(48, 128))
	return masked.String()
}

// ShouldAnonymize reports whether an entry's network context is old enough to
// be truncated in exported views. Entries under legal hold keep full
// precision: the hold overrides minimization just as it overrides retention
// expiry, and the stored entry is never rewritten either way (that would
// break its hash).
func ShouldAnonymize(e *Entry, now time.Time) bool {
	if e.LegalHold {
		return false
	}
	return e.Timestamp.Before(now.Add(-ipAnonymizationAge))
}
