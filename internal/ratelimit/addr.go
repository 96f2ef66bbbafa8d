package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP returns the address to throttle r by: the first X-Forwarded-For
// hop when the server sits behind a proxy, otherwise the peer address.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
