package ws

import (
	"net"
	"net/http"
	"strings"
)

// clientAddr returns the address a request is attributed to. Behind a trusted
// proxy the first X-Forwarded-For entry wins; otherwise, or when the header is
// absent, the host part of the socket peer is used.
func clientAddr(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if first = strings.TrimSpace(first); first != "" {
				return first
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
