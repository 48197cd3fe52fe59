package http_test

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	pkghttp "github.com/BradenHooton/subdivisync/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		proxies    []string
		nilConfig  bool
		want       string
	}{
		{
			name:       "direct connection ignores spoofed headers",
			remoteAddr: "203.0.113.10:54321",
			headers:    map[string]string{"X-Forwarded-For": "1.2.3.4, 5.6.7.8", "X-Real-IP": "192.168.1.1"},
			proxies:    []string{"10.0.0.0/8", "127.0.0.1/32"},
			want:       "203.0.113.10",
		},
		{
			name:       "trusted proxy uses first forwarded address",
			remoteAddr: "10.0.0.5:54321",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.42, 203.0.113.43, 10.0.0.5"},
			proxies:    []string{"10.0.0.0/8"},
			want:       "203.0.113.42",
		},
		{
			name:       "trusted proxy falls back to X-Real-IP",
			remoteAddr: "10.0.0.5:54321",
			headers:    map[string]string{"X-Real-IP": "198.51.100.7"},
			proxies:    []string{"10.0.0.0/8"},
			want:       "198.51.100.7",
		},
		{
			name:       "ipv6 trusted proxy",
			remoteAddr: "[::1]:54321",
			headers:    map[string]string{"X-Forwarded-For": "2001:db8::1"},
			proxies:    []string{"::1/128"},
			want:       "2001:db8::1",
		},
		{
			name:       "nil config trusts only remote addr",
			remoteAddr: "203.0.113.10:54321",
			headers:    map[string]string{"X-Forwarded-For": "1.2.3.4"},
			nilConfig:  true,
			want:       "203.0.113.10",
		},
		{
			name:       "invalid cidr ranges are ignored",
			remoteAddr: "203.0.113.10:54321",
			headers:    map[string]string{"X-Forwarded-For": "1.2.3.4"},
			proxies:    []string{"invalid-cidr-range"},
			want:       "203.0.113.10",
		},
		{
			name:       "localhost claim from untrusted peer is ignored",
			remoteAddr: "203.0.113.10:54321",
			headers:    map[string]string{"X-Forwarded-For": "127.0.0.1, 203.0.113.10"},
			proxies:    []string{"10.0.0.0/8"},
			want:       "203.0.113.10",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/auth/failed-login", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}

			var cfg *pkghttp.IPConfig
			if !tt.nilConfig {
				cfg = pkghttp.NewIPConfig(tt.proxies)
			}

			assert.Equal(t, tt.want, pkghttp.ExtractClientIP(req, cfg))
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	type body struct {
		Email string `json:"email"`
	}

	t.Run("valid body", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", strings.NewReader(`{"email":"owner@example.com"}`))
		var got body
		require.NoError(t, pkghttp.DecodeJSON(httptest.NewRecorder(), req, &got))
		assert.Equal(t, "owner@example.com", got.Email)
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", strings.NewReader(`{"email":`))
		var got body
		err := pkghttp.DecodeJSON(httptest.NewRecorder(), req, &got)
		assert.True(t, errors.Is(err, pkghttp.ErrInvalidJSON))
	})

	t.Run("trailing document", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", strings.NewReader(`{"email":"a@b.com"}{"email":"c@d.com"}`))
		var got body
		err := pkghttp.DecodeJSON(httptest.NewRecorder(), req, &got)
		assert.True(t, errors.Is(err, pkghttp.ErrInvalidJSON))
	})
}

func TestResolveClientIP(t *testing.T) {
	cfg := pkghttp.NewIPConfig([]string{"10.0.0.0/8"})

	tests := []struct {
		name       string
		remoteAddr string
		reported   string
		want       string
	}{
		{"trusted proxy relays client address", "10.0.0.5:1234", "198.51.100.7", "198.51.100.7"},
		{"untrusted caller cannot claim an address", "203.0.113.10:1234", "198.51.100.7", "203.0.113.10"},
		{"garbage report ignored", "10.0.0.5:1234", "not-an-ip", "10.0.0.5"},
		{"empty report", "10.0.0.5:1234", "", "10.0.0.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/auth/failed-login", nil)
			req.RemoteAddr = tt.remoteAddr
			assert.Equal(t, tt.want, pkghttp.ResolveClientIP(req, cfg, tt.reported))
		})
	}
}
