// Package validation implements request-shape checks and the SSRF guard
// applied to every user-supplied URL before it reaches the browser adapter
// or a webhook delivery attempt.
package validation

import (
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"

	"github.com/fetchframe/webextract-api/internal/apperr"
)

const (
	MaxFieldsCount        = 50
	MaxInstructionsChars  = 2000
	MinTimeoutMs          = 1000
	MaxTimeoutMs          = 60000
	DefaultTimeoutMs      = 15000
)

// ExtractRequest mirrors the wire shape of POST /extract and POST /batch items.
type ExtractRequest struct {
	URL           string         `json:"url"`
	Fields        []string       `json:"fields,omitempty"`
	Schema        map[string]any `json:"schema,omitempty"`
	Instructions  string         `json:"instructions,omitempty"`
	Async         bool           `json:"async,omitempty"`
	WebhookURL    string         `json:"webhook_url,omitempty"`
	WebhookSecret string         `json:"webhook_secret,omitempty"`
	Options       ExtractOptions `json:"options,omitempty"`
}

// ExtractOptions carries per-request browser rendering options.
type ExtractOptions struct {
	Screenshot   bool   `json:"screenshot,omitempty"`
	StoreContent bool   `json:"storeContent,omitempty"`
	WaitUntil    string `json:"waitUntil,omitempty"`
	TimeoutMs    int    `json:"timeoutMs,omitempty"`
}

// ValidateExtractRequest checks field shape and sets default/clamped values.
// It does not perform the network-facing SSRF check; call CheckSSRF separately
// once the URL is known to be syntactically valid.
func ValidateExtractRequest(r *ExtractRequest) error {
	if strings.TrimSpace(r.URL) == "" {
		return apperr.New(apperr.KindBadRequest, "url is required")
	}
	if _, err := ParseHTTPURL(r.URL); err != nil {
		return apperr.Wrap(apperr.KindBadRequest, "url is not a valid http(s) URL", err)
	}
	if len(r.Fields) == 0 && len(r.Schema) == 0 {
		return apperr.New(apperr.KindBadRequest, "either fields or schema must be provided")
	}
	if len(r.Fields) > MaxFieldsCount {
		return apperr.New(apperr.KindBadRequest, fmt.Sprintf("fields must not exceed %d entries", MaxFieldsCount))
	}
	if len(r.Instructions) > MaxInstructionsChars {
		return apperr.New(apperr.KindBadRequest, fmt.Sprintf("instructions must not exceed %d characters", MaxInstructionsChars))
	}
	if r.Async && r.WebhookURL != "" {
		if _, err := ParseHTTPURL(r.WebhookURL); err != nil {
			return apperr.Wrap(apperr.KindBadRequest, "webhook_url is not a valid http(s) URL", err)
		}
	}
	if r.Options.TimeoutMs == 0 {
		r.Options.TimeoutMs = DefaultTimeoutMs
	}
	if r.Options.TimeoutMs < MinTimeoutMs || r.Options.TimeoutMs > MaxTimeoutMs {
		return apperr.New(apperr.KindBadRequest, fmt.Sprintf("options.timeoutMs must be between %d and %d", MinTimeoutMs, MaxTimeoutMs))
	}
	if r.Options.WaitUntil == "" {
		r.Options.WaitUntil = "domcontentloaded"
	}
	if r.Options.WaitUntil != "domcontentloaded" && r.Options.WaitUntil != "networkidle0" {
		return apperr.New(apperr.KindBadRequest, "options.waitUntil must be domcontentloaded or networkidle0")
	}
	return nil
}

// ParseHTTPURL parses s and requires it to be an absolute http(s) URL.
func ParseHTTPURL(s string) (*url.URL, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("url has no host")
	}
	return u, nil
}

// cloudMetadataPrefixes holds the well-known link-local metadata CIDRs that
// must never be reachable from a server-side fetch, in addition to the
// generic private/loopback checks below.
var cloudMetadataPrefixes = []netip.Prefix{
	netip.MustParsePrefix("169.254.0.0/16"), // AWS/GCP/Azure instance metadata
	netip.MustParsePrefix("fd00:ec2::/32"),  // AWS IMDSv2 IPv6
}

// CheckSSRF rejects host if any of ips is in a loopback, private,
// link-local, unspecified, or cloud-metadata range.
// It must be called with the already-resolved IPs for the request's target
// host (resolver and dialer are the caller's responsibility so this stays
// a pure, testable function).
func CheckSSRF(host string, ips []net.IP) error {
	if len(ips) == 0 {
		return apperr.New(apperr.KindBadRequest, fmt.Sprintf("could not resolve host %q", host))
	}
	for _, ip := range ips {
		addr, ok := netip.AddrFromSlice(ip.To16())
		if !ok {
			continue
		}
		addr = addr.Unmap()
		if addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() || addr.IsUnspecified() || addr.IsLinkLocalMulticast() {
			return apperr.New(apperr.KindBadRequest, "url resolves to a disallowed address range")
		}
		for _, prefix := range cloudMetadataPrefixes {
			if prefix.Contains(addr) {
				return apperr.New(apperr.KindBadRequest, "url resolves to a disallowed address range")
			}
		}
	}
	return nil
}

// ResolveAndCheckSSRF resolves rawURL's host and applies CheckSSRF to every
// returned address. Intended as the single call site used by both the
// browser adapter and the webhook dispatcher before any outbound connection.
func ResolveAndCheckSSRF(rawURL string) error {
	u, err := ParseHTTPURL(rawURL)
	if err != nil {
		return apperr.Wrap(apperr.KindBadRequest, "invalid url", err)
	}
	host := u.Hostname()
	if host == "" {
		return apperr.New(apperr.KindBadRequest, "url has no host")
	}
	if ip := net.ParseIP(host); ip != nil {
		return CheckSSRF(host, []net.IP{ip})
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		return apperr.Wrap(apperr.KindBadRequest, fmt.Sprintf("could not resolve host %q", host), err)
	}
	return CheckSSRF(host, ips)
}
