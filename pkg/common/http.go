package common

import (
	_ "embed"
	"net/http"
	"strings"
	"time"
)

//go:embed VERSION
var version string

// Version returns the release version reported in responses and the
// outbound user agent.
func Version() string {
	return strings.TrimSpace(version)
}

type userAgentTransport struct {
	transport http.RoundTripper
	userAgent string
}

// RoundTrip implements http.RoundTripper.
func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone the request to avoid modifying the original request's headers
	// which might be shared or reused
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)
	return t.transport.RoundTrip(req)
}

// HTTPClient returns an http client with the proxy's user-agent set. timeout
// bounds every single attempt including reading the body.
func HTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &userAgentTransport{
			transport: http.DefaultTransport,
			userAgent: "LightEarthProxy/" + Version(),
		},
		Timeout: timeout,
	}
}

// ProxyTrust says which forwarding headers ClientIP believes. The zero value
// trusts none and uses the connection's address.
type ProxyTrust struct {
	// Header is set to the client address by a trusted edge in front of the
	// server, e.g. CF-Connecting-IP. Empty ignores it.
	Header string
	// Hops is the number of trusted proxies appending to X-Forwarded-For.
	// Entries left of those are supplied by the client and ignored.
	Hops int
}

// ClientIP returns the address of the client that made r, honouring only
// the forwarding headers trust allows.
func ClientIP(r *http.Request, trust ProxyTrust) string {
	if trust.Header != "" {
		if ip := strings.TrimSpace(r.Header.Get(trust.Header)); ip != "" {
			return ip
		}
	}
	if trust.Hops > 0 {
		var hops []string
		for _, v := range r.Header.Values("X-Forwarded-For") {
			for _, ip := range strings.Split(v, ",") {
				if ip = strings.TrimSpace(ip); ip != "" {
					hops = append(hops, ip)
				}
			}
		}
		if len(hops) >= trust.Hops {
			return hops[len(hops)-trust.Hops]
		}
	}
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i > 0 {
		host = host[:i]
	}
	return strings.Trim(host, "[]")
}
