package geo

import (
	"net"
	"net/http"
	"strings"
)

// loopbackSentinel is returned when no header yields a valid client address.
const loopbackSentinel = "127.0.0.1"

// proxy headers consulted in precedence order; first valid entry wins
var clientIPHeaders = []string{
	"X-Forwarded-For",
	"X-Real-IP",
	"CF-Connecting-IP",
	"X-Client-IP",
}

// ClientIP extracts the best-effort client address from proxy headers.
// It never fails: invalid header values are skipped and the loopback
// sentinel is returned when nothing validates.
func ClientIP(r *http.Request) string {
	for _, header := range clientIPHeaders {
		value := r.Header.Get(header)
		if value == "" {
			continue
		}

		// X-Forwarded-For may carry a chain of addresses; the first
		// entry is the originating client.
		if header == "X-Forwarded-For" {
			value = strings.SplitN(value, ",", 2)[0]
		}

		ip := strings.TrimSpace(value)
		if IsValidIP(ip) {
			return ip
		}
	}

	return loopbackSentinel
}

// IsValidIP reports whether s is a well-formed IPv4 or IPv6 address.
func IsValidIP(s string) bool {
	return net.ParseIP(s) != nil
}

// IsPrivateOrLocal reports whether ip is a loopback or private-range
// address that should never be sent to the geolocation provider.
func IsPrivateOrLocal(ip string) bool {
	return ip == "127.0.0.1" ||
		ip == "::1" ||
		strings.HasPrefix(ip, "192.168.") ||
		strings.HasPrefix(ip, "10.") ||
		strings.HasPrefix(ip, "172.")
}
