// Package netguard validates outbound URLs before MyNewsLens's HTTP clients
// dereference them. Both the scraper and the feed fetcher pull arbitrary
// user-supplied URLs (a feed's own link, an article's canonical URL) off the
// network, so both need the same SSRF guard: reject non-http(s) schemes and
// hostnames that resolve to a private, loopback, or link-local IP.
package netguard

import (
	"fmt"
	"net"
	"net/http"
	"net/url"

	"mynewslens/internal/domain"
)

// ValidateURL rejects non-http(s) schemes outright, and, when denyPrivateIPs
// is set, also rejects hostnames that resolve to a private, loopback, or
// link-local address.
func ValidateURL(urlStr string, denyPrivateIPs bool) error {
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("%w: parse error: %v", domain.ErrInvalidInput, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q not allowed", domain.ErrInvalidInput, u.Scheme)
	}
	hostname := u.Hostname()
	if hostname == "" {
		return fmt.Errorf("%w: empty hostname", domain.ErrInvalidInput)
	}
	if !denyPrivateIPs {
		return nil
	}

	ips, err := net.LookupIP(hostname)
	if err != nil {
		return fmt.Errorf("%w: DNS lookup failed for %s: %v", domain.ErrInvalidInput, hostname, err)
	}
	for _, ip := range ips {
		if IsPrivateIP(ip) {
			return fmt.Errorf("%w: hostname %q resolves to private IP %s", domain.ErrInvalidInput, hostname, ip)
		}
	}
	return nil
}

// IsPrivateIP reports whether ip is loopback, RFC1918/ULA private, or
// link-local — the set of addresses an SSRF-hardened fetch must not reach.
func IsPrivateIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast()
}

// CheckRedirect builds an http.Client.CheckRedirect func that caps the
// redirect chain at maxRedirects and re-validates every hop with ValidateURL
// — a redirect is as much an SSRF vector as the original URL.
func CheckRedirect(maxRedirects int, denyPrivateIPs bool) func(req *http.Request, via []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("%w: exceeded %d redirects", domain.ErrInvalidInput, maxRedirects)
		}
		if err := ValidateURL(req.URL.String(), denyPrivateIPs); err != nil {
			return fmt.Errorf("redirect target validation failed: %w", err)
		}
		return nil
	}
}
