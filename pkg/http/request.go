package http

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// IPConfig lists the proxies whose forwarding headers are believed.
type IPConfig struct {
	TrustedProxies []string // CIDR ranges of trusted proxies
}

// Validate rejects malformed CIDR ranges so misconfiguration surfaces at
// startup instead of silently disabling header trust.
func (c *IPConfig) Validate() error {
	for _, cidr := range c.TrustedProxies {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return fmt.Errorf("invalid trusted proxy %q: %w", cidr, err)
		}
	}
	return nil
}

// ExtractClientIP returns the address that the blocklist, failure tracker and
// logs key on. Forwarding headers are consulted only when the direct peer is
// a trusted proxy. IPv4-mapped IPv6 addresses are reduced to dotted form so
// one client never appears under two keys.
func ExtractClientIP(r *http.Request, config *IPConfig) string {
	remoteIP := remoteHost(r)

	if config != nil && fromTrustedProxy(remoteIP, config.TrustedProxies) {
		for _, candidate := range strings.Split(r.Header.Get("X-Forwarded-For"), ",") {
			if ip, ok := NormalizeIP(candidate); ok {
				return ip
			}
		}
		if ip, ok := NormalizeIP(r.Header.Get("X-Real-IP")); ok {
			return ip
		}
	}

	if ip, ok := NormalizeIP(remoteIP); ok {
		return ip
	}
	return remoteIP
}

func remoteHost(r *http.Request) string {
	if r.RemoteAddr == "" {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func fromTrustedProxy(ip string, trustedProxies []string) bool {
	peer := net.ParseIP(ip)
	if peer == nil {
		return false
	}
	for _, cidr := range trustedProxies {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			continue
		}
		if ipNet.Contains(peer) {
			return true
		}
	}
	return false
}

// NormalizeIP returns the canonical text form of an address: dotted quad for
// IPv4 and IPv4-mapped IPv6, lowercase compressed form otherwise.
func NormalizeIP(raw string) (string, bool) {
	parsed := net.ParseIP(strings.TrimSpace(raw))
	if parsed == nil {
		return "", false
	}
	if v4 := parsed.To4(); v4 != nil {
		return v4.String(), true
	}
	return parsed.String(), true
}
