// Package validation filters lead targets before a processing unit is scheduled.
package validation

import (
	"net/url"
	"strconv"
	"strings"
)

var blockedHosts = map[string]struct{}{
	"localhost": {},
	"127.0.0.1": {},
	"0.0.0.0":   {},
}

// IsValidDomain reports whether domain may be scheduled for processing.
// It rejects empty input, loopback/unspecified hosts and the RFC1918
// private ranges. It does not check DNS resolvability.
func IsValidDomain(domain string) bool {
	if domain == "" {
		return false
	}
	if _, blocked := blockedHosts[domain]; blocked {
		return false
	}
	if strings.HasPrefix(domain, "10.") || strings.HasPrefix(domain, "192.168.") {
		return false
	}
	if strings.HasPrefix(domain, "172.") {
		parts := strings.Split(domain, ".")
		if len(parts) > 1 {
			if octet, err := strconv.Atoi(parts[1]); err == nil && octet >= 16 && octet <= 31 {
				return false
			}
		}
	}
	return true
}

// ExtractDomainFromURL returns the host of rawURL without a leading "www.".
// ok is false when the URL has no scheme or host or does not parse.
func ExtractDomainFromURL(rawURL string) (domain string, ok bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	host := u.Hostname()
	if host == "" {
		return "", false
	}
	return strings.TrimPrefix(host, "www."), true
}

// NormalizeTarget accepts a bare domain or a URL and returns a lower-cased
// domain suitable for IsValidDomain. Bare domains are read as https URLs.
func NormalizeTarget(target string) (string, bool) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", false
	}
	if !strings.Contains(target, "://") {
		if strings.ContainsAny(target, " \t") {
			return "", false
		}
		target = "https://" + target
	}
	domain, ok := ExtractDomainFromURL(target)
	if !ok {
		return "", false
	}
	return strings.ToLower(domain), true
}
