package ratelimit

import (
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// Key returns the limiter key for a request: the caller's user id when
// authenticated, otherwise its network origin.
func Key(r *http.Request, userID uuid.UUID) string {
	if userID != uuid.Nil {
		return "user:" + userID.String()
	}
	return "ip:" + ClientIP(r)
}

// ClientIP returns the first valid address in X-Forwarded-For, falling back
// to RemoteAddr.
func ClientIP(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		for _, part := range strings.Split(xf, ",") {
			ip := strings.TrimSpace(part)
			if ip == "" {
				continue
			}
			if net.ParseIP(ip) != nil {
				return ip
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && net.ParseIP(host) != nil {
		return host
	}
	return r.RemoteAddr
}
