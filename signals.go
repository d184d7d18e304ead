package guestgate

import (
	"fmt"
	"net/netip"
	"strings"
	"time"
)

// MaxFingerprintLen bounds the fingerprint size so it cannot bloat store keys.
const MaxFingerprintLen = 256

// DefaultIPv6PrefixLen is the prefix IPv6 clients are grouped by. A single
// subscriber usually owns a whole /64.
const DefaultIPv6PrefixLen = 64

// RequestSignals is the identity tuple extracted by the web layer for one
// anonymous request.
type RequestSignals struct {
	ClientIP    string
	Fingerprint string
	// Timestamp is assigned by the server and used for window bucketing.
	Timestamp time.Time
}

// Normalize returns a copy with surrounding whitespace removed, IPv4-mapped
// IPv6 addresses unmapped and IPv6 addresses collapsed to their
// ipv6PrefixLen network. Unparsable IPs are left as-is for Validate to
// reject.
func (s RequestSignals) Normalize(ipv6PrefixLen int) RequestSignals {
	s.ClientIP = strings.TrimSpace(s.ClientIP)
	s.Fingerprint = strings.TrimSpace(s.Fingerprint)
	if !s.Timestamp.IsZero() {
		s.Timestamp = s.Timestamp.UTC()
	}

	addr, err := netip.ParseAddr(s.ClientIP)
	if err != nil {
		return s
	}
	addr = addr.Unmap().WithZone("")
	if addr.Is6() && ipv6PrefixLen > 0 && ipv6PrefixLen < 128 {
		if p, err := addr.Prefix(ipv6PrefixLen); err == nil {
			s.ClientIP = p.String()
			return s
		}
	}
	s.ClientIP = addr.String()
	return s
}

// Validate checks that both identity fields are present and well formed.
// ClientIP must be a single address as supplied by the web layer; network
// prefixes are rejected. Call it before Normalize.
func (s RequestSignals) Validate() error {
	ip := strings.TrimSpace(s.ClientIP)
	if ip == "" {
		return fmt.Errorf("%w: client ip is required", ErrInvalidSignals)
	}
	if _, err := netip.ParseAddr(ip); err != nil {
		return fmt.Errorf("%w: client ip %q: %v", ErrInvalidSignals, s.ClientIP, err)
	}
	fp := strings.TrimSpace(s.Fingerprint)
	if fp == "" {
		return fmt.Errorf("%w: fingerprint is required", ErrInvalidSignals)
	}
	if len(fp) > MaxFingerprintLen {
		return fmt.Errorf("%w: fingerprint longer than %d bytes", ErrInvalidSignals, MaxFingerprintLen)
	}
	return nil
}
