// Package ssrf validates URLs and IP addresses before outbound
// fetches to prevent server-side request forgery.
package ssrf

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// BlockedError is returned when a URL or address is rejected by
// SSRF protection rules.
type BlockedError struct {
	Message string
}

func (e *BlockedError) Error() string { return e.Message }

func blocked(format string, args ...any) *BlockedError {
	return &BlockedError{Message: fmt.Sprintf(format, args...)}
}

// Resolver resolves hostnames to IPs. Swappable in tests.
type Resolver func(host string) ([]net.IP, error)

var defaultResolver Resolver = func(host string) ([]net.IP, error) {
	return net.LookupIP(host)
}

// Validated is the outcome of URL validation.
type Validated struct {
	URL *url.URL

	// IPs are all resolved addresses; every one passed the block
	// list. Plain-HTTP fetches must dial one of these rather than
	// re-resolving, so a DNS rebind cannot swap the target.
	IPs []net.IP
}

var (
	octalOrHexOctet = regexp.MustCompile(`^0[0-9xX]`)
	allDigits       = regexp.MustCompile(`^[0-9]+$`)
)

// ValidateURL checks scheme, host notation, and every resolved
// address. Returns a BlockedError for policy rejections.
func ValidateURL(rawURL string, resolve Resolver) (*Validated, error) {
	if resolve == nil {
		resolve = defaultResolver
	}
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, blocked("blocked: scheme %q is not allowed", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return nil, blocked("blocked: URL has no host")
	}

	if err := checkHostNotation(host); err != nil {
		return nil, err
	}

	if ip := net.ParseIP(host); ip != nil {
		if err := CheckIP(ip); err != nil {
			return nil, err
		}
		return &Validated{URL: u, IPs: []net.IP{ip}}, nil
	}

	ips, err := resolve(host)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", host, err)
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("resolve %s: no addresses", host)
	}
	for _, ip := range ips {
		if err := CheckIP(ip); err != nil {
			return nil, err
		}
	}
	return &Validated{URL: u, IPs: ips}, nil
}

// checkHostNotation rejects alternate IPv4 notations (octal, hex,
// bare integer) that bypass naive string checks, and obvious IPv6
// internal forms.
func checkHostNotation(host string) error {
	lower := strings.ToLower(host)

	if allDigits.MatchString(lower) {
		return blocked("blocked: bare-integer IP notation")
	}
	if strings.HasPrefix(lower, "0x") {
		return blocked("blocked: hexadecimal IP notation")
	}
	// Dotted quads where any octet uses octal or hex notation.
	if parts := strings.Split(lower, "."); len(parts) == 4 {
		suspicious := true
		anyAlt := false
		for _, part := range parts {
			if part == "" || !isNumericOctet(part) {
				suspicious = false
				break
			}
			if len(part) > 1 && octalOrHexOctet.MatchString(part) {
				anyAlt = true
			}
		}
		if suspicious && anyAlt {
			return blocked("blocked: non-decimal IP notation")
		}
	}
	return nil
}

func isNumericOctet(s string) bool {
	if strings.HasPrefix(s, "0x") {
		_, err := strconv.ParseUint(s[2:], 16, 32)
		return err == nil
	}
	_, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		_, err = strconv.ParseUint(s, 8, 32)
	}
	return err == nil
}

// metadataIPs are cloud metadata endpoints blocked explicitly in
// addition to the range checks.
var metadataIPs = []string{
	"169.254.169.254",
	"fd00:ec2::254",
}

// CheckIP rejects loopback, private, link-local, unspecified, ULA,
// and cloud-metadata addresses.
func CheckIP(ip net.IP) error {
	for _, meta := range metadataIPs {
		if ip.Equal(net.ParseIP(meta)) {
			return blocked("blocked: cloud metadata address %s", ip)
		}
	}
	switch {
	case ip.IsLoopback():
		return blocked("blocked: loopback address %s", ip)
	case ip.IsUnspecified():
		return blocked("blocked: unspecified address %s", ip)
	case ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast():
		return blocked("blocked: link-local address %s", ip)
	case ip.IsPrivate():
		return blocked("blocked: private address %s", ip)
	}
	return nil
}
