package http_test

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	pkghttp "github.com/xiaomao8090/kazay-website/pkg/http"
)

func TestExtractClientIP(t *testing.T) {
	internal := &pkghttp.IPConfig{TrustedProxies: []string{"10.0.0.0/8", "127.0.0.1/32"}}

	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		realIP     string
		config     *pkghttp.IPConfig
		want       string
	}{
		{
			name:       "untrusted peer cannot spoof forwarding headers",
			remoteAddr: "203.0.113.10:54321",
			xff:        "1.2.3.4, 5.6.7.8",
			realIP:     "192.168.1.1",
			config:     internal,
			want:       "203.0.113.10",
		},
		{
			name:       "untrusted peer claiming localhost",
			remoteAddr: "203.0.113.10:54321",
			xff:        "127.0.0.1",
			config:     internal,
			want:       "203.0.113.10",
		},
		{
			name:       "trusted proxy uses first forwarded address",
			remoteAddr: "10.0.0.5:54321",
			xff:        "203.0.113.42, 203.0.113.43, 10.0.0.5",
			config:     internal,
			want:       "203.0.113.42",
		},
		{
			name:       "trusted proxy skips garbage and falls back to X-Real-IP",
			remoteAddr: "10.0.0.5:54321",
			xff:        "not-an-ip",
			realIP:     "198.51.100.7",
			config:     internal,
			want:       "198.51.100.7",
		},
		{
			name:       "trusted ipv6 proxy",
			remoteAddr: "[::1]:54321",
			xff:        "2001:db8::42",
			config:     &pkghttp.IPConfig{TrustedProxies: []string{"::1/128"}},
			want:       "2001:db8::42",
		},
		{
			name:       "nil config ignores headers",
			remoteAddr: "10.0.0.5:54321",
			xff:        "203.0.113.42",
			want:       "10.0.0.5",
		},
		{
			name:       "malformed proxy ranges trust nobody",
			remoteAddr: "10.0.0.5:54321",
			xff:        "203.0.113.42",
			config:     &pkghttp.IPConfig{TrustedProxies: []string{"bogus"}},
			want:       "10.0.0.5",
		},
		{
			name:       "ipv4-mapped peer is reduced to dotted form",
			remoteAddr: "[::ffff:203.0.113.10]:54321",
			want:       "203.0.113.10",
		},
		{
			name:       "ipv4-mapped forwarded address is reduced too",
			remoteAddr: "10.0.0.5:54321",
			xff:        "::ffff:198.51.100.9",
			config:     internal,
			want:       "198.51.100.9",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/admin/login", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}

			assert.Equal(t, tt.want, pkghttp.ExtractClientIP(req, tt.config))
		})
	}
}

func TestExtractClientIP_NoRemoteAddr(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = ""

	assert.Equal(t, "unknown", pkghttp.ExtractClientIP(req, nil))
}

func TestIPConfig_Validate(t *testing.T) {
	assert.NoError(t, (&pkghttp.IPConfig{TrustedProxies: []string{"10.0.0.0/8", "::1/128"}}).Validate())
	assert.NoError(t, (&pkghttp.IPConfig{}).Validate())
	assert.Error(t, (&pkghttp.IPConfig{TrustedProxies: []string{"10.0.0.0/8", "bogus"}}).Validate())
}
