// Package egress guards outbound HTTP calls. Every adapter client is built
// here so a request to a host missing from the allowlist fails before any
// network I/O happens.
package egress

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// ErrDenied is wrapped by every Violation.
var ErrDenied = errors.New("egress: host not on allowlist")

// Violation reports a blocked request.
type Violation struct {
	URL  string
	Host string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("egress violation: domain %q is not on the allowlist (url %s)", v.Host, v.URL)
}

func (v *Violation) Unwrap() error { return ErrDenied }

// Allowlist matches hosts exactly or as subdomains of a listed domain.
type Allowlist struct {
	domains []string
}

// NewAllowlist normalises domains and drops blanks.
func NewAllowlist(domains []string) Allowlist {
	out := make([]string, 0, len(domains))
	for _, d := range domains {
		if h := NormalizeHost(d); h != "" {
			out = append(out, h)
		}
	}
	return Allowlist{domains: out}
}

// Domains returns a copy of the normalised list.
func (a Allowlist) Domains() []string {
	return append([]string(nil), a.domains...)
}

// Allows reports whether host may be contacted.
func (a Allowlist) Allows(host string) bool {
	h := NormalizeHost(host)
	if h == "" {
		return false
	}
	for _, allowed := range a.domains {
		if h == allowed || strings.HasSuffix(h, "."+allowed) {
			return true
		}
	}
	return false
}

// Check returns a *Violation when the request host is not allowed.
func (a Allowlist) Check(req *http.Request) error {
	if req == nil || req.URL == nil {
		return &Violation{Host: ""}
	}
	host := req.URL.Hostname()
	if !a.Allows(host) {
		return &Violation{URL: req.URL.String(), Host: NormalizeHost(host)}
	}
	return nil
}

// NormalizeHost lower-cases host and strips the port and a leading "www.".
func NormalizeHost(host string) string {
	h := strings.ToLower(strings.TrimSpace(host))
	if strings.Contains(h, "://") {
		h = h[strings.Index(h, "://")+3:]
	}
	if i := strings.IndexAny(h, "/?#"); i >= 0 {
		h = h[:i]
	}
	if hostOnly, _, err := net.SplitHostPort(h); err == nil {
		h = hostOnly
	}
	h = strings.TrimPrefix(h, "www.")
	return strings.TrimSuffix(h, ".")
}

// Transport is an http.RoundTripper enforcing an Allowlist.
type Transport struct {
	allow Allowlist
	next  http.RoundTripper
}

// NewTransport wraps next; nil next means http.DefaultTransport.
func NewTransport(allow Allowlist, next http.RoundTripper) *Transport {
	if next == nil {
		next = http.DefaultTransport
	}
	return &Transport{allow: allow, next: next}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.allow.Check(req); err != nil {
		return nil, err
	}
	return t.next.RoundTrip(req)
}

// NewClient returns a pooled HTTP client whose transport enforces allowlist.
func NewClient(timeout time.Duration, allowlist []string) *http.Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	pooled := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 3 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          50,
		MaxIdleConnsPerHost:   10,
		MaxConnsPerHost:       20,
		ForceAttemptHTTP2:     true,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   3 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: NewTransport(NewAllowlist(allowlist), pooled),
	}
}
