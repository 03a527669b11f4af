// Package security validates the base URLs chatsync sends credentials to: the
// completion provider (or proxy) and the remote persistence backend.
package security

import (
	"net/netip"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

var ErrUnsafeURL = errors.New("unsafe outbound URL")

type OutboundURLOptions struct {
	// AllowHTTP permits plain HTTP URLs. HTTPS is always allowed.
	AllowHTTP bool
	// AllowLocalNetworks permits loopback, private and link-local targets as
	// well as localhost names.
	AllowLocalNetworks bool
}

// ValidateOutboundURL rejects unsupported schemes and, unless allowed, local
// network targets. IP literals are checked without DNS lookups.
func ValidateOutboundURL(rawURL string, opts OutboundURLOptions) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.Wrap(ErrUnsafeURL, err.Error())
	}

	switch parsed.Scheme {
	case "https":
	case "http":
		if !opts.AllowHTTP {
			return errors.Wrap(ErrUnsafeURL, "http scheme is not allowed")
		}
	default:
		return errors.Wrapf(ErrUnsafeURL, "unsupported scheme %q", parsed.Scheme)
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return errors.Wrap(ErrUnsafeURL, "host is required")
	}
	if !opts.AllowLocalNetworks && isLocalHostname(host) {
		return errors.Wrapf(ErrUnsafeURL, "local hostname %q is not allowed", host)
	}

	addr, err := netip.ParseAddr(host)
	if err != nil {
		return nil
	}
	if addr.Zone() != "" && !opts.AllowLocalNetworks {
		return errors.Wrapf(ErrUnsafeURL, "zoned address %q is not allowed", host)
	}
	addr = addr.Unmap()
	if addr.IsUnspecified() || addr.IsMulticast() {
		return errors.Wrapf(ErrUnsafeURL, "address %q is not routable", host)
	}
	if !opts.AllowLocalNetworks &&
		(addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast()) {
		return errors.Wrapf(ErrUnsafeURL, "local network address %q is not allowed", host)
	}
	return nil
}

// NormalizeBaseURL validates rawURL and strips trailing slashes so paths can
// be appended directly.
func NormalizeBaseURL(rawURL string, opts OutboundURLOptions) (string, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(rawURL), "/")
	if err := ValidateOutboundURL(trimmed, opts); err != nil {
		return "", err
	}
	return trimmed, nil
}

func isLocalHostname(host string) bool {
	return host == "localhost" ||
		strings.HasSuffix(host, ".localhost") ||
		strings.HasSuffix(host, ".local")
}
