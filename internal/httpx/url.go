package httpx

import (
	"net"
	"net/http"
	"strings"
)

// BaseURL returns "<scheme>://<host>" for the request as the client saw it.
// X-Forwarded-Proto is honored when a TLS-terminating proxy sets it; only the
// first entry of a comma-separated list counts. The host always comes from
// the Host header: X-Forwarded-Host is ignored since any client can set it
// and the result is published in challenges and metadata documents.
func BaseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := strings.ToLower(firstValue(r.Header.Get("X-Forwarded-Proto"))); p == "http" || p == "https" {
		scheme = p
	}
	host := r.Host
	// If Host is empty, fall back to server addr
	if host == "" {
		h, p, _ := net.SplitHostPort(r.URL.Host)
		if h == "" {
			h = "localhost"
		}
		if p == "" {
			p = "80"
		}
		host = net.JoinHostPort(h, p)
	}
	return scheme + "://" + host
}

func firstValue(v string) string {
	first, _, _ := strings.Cut(v, ",")
	return strings.TrimSpace(first)
}
