package security

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateOutboundURL(t *testing.T) {
	local := OutboundURLOptions{AllowHTTP: true, AllowLocalNetworks: true}

	tests := []struct {
		name    string
		url     string
		opts    OutboundURLOptions
		wantErr bool
	}{
		{name: "https provider", url: "https://api.anthropic.com", wantErr: false},
		{name: "http rejected by default", url: "http://api.example.com", wantErr: true},
		{name: "http allowed", url: "http://api.example.com", opts: OutboundURLOptions{AllowHTTP: true}},
		{name: "unsupported scheme", url: "ftp://example.com", wantErr: true},
		{name: "missing host", url: "https:///v1", wantErr: true},
		{name: "localhost rejected", url: "https://localhost:8080", wantErr: true},
		{name: "localhost allowed", url: "http://localhost:8080", opts: local},
		{name: "private ip rejected", url: "https://10.0.0.4", wantErr: true},
		{name: "loopback allowed", url: "http://127.0.0.1:9000", opts: local},
		{name: "unspecified always rejected", url: "http://0.0.0.0", opts: local, wantErr: true},
		{name: "zoned ipv6 rejected", url: "https://[fe80::1%25eth0]/", wantErr: true},
		{name: "zoned ipv6 allowed for local", url: "https://[fe80::1%25eth0]/", opts: local},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateOutboundURL(tt.url, tt.opts)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrUnsafeURL))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestNormalizeBaseURL(t *testing.T) {
	got, err := NormalizeBaseURL(" https://proxy.example.com/api/// ", OutboundURLOptions{})
	require.NoError(t, err)
	assert.Equal(t, "https://proxy.example.com/api", got)

	_, err = NormalizeBaseURL("https://localhost/", OutboundURLOptions{})
	assert.Error(t, err)
}
