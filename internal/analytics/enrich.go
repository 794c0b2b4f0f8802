package analytics

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"
)

// Edge headers that carry the visitor country.
var countryHeaders = []string{"CF-IPCountry", "X-Vercel-IP-Country"}

// Enrich fills country_code from edge headers and ip_hash from the client
// address. Existing values are never overwritten.
func Enrich(ev *Event, r *http.Request) {
	if ev == nil || ev.Properties == nil || r == nil {
		return
	}
	if ev.String(PropCountryCode) == "" {
		for _, h := range countryHeaders {
			cc := strings.ToUpper(strings.TrimSpace(r.Header.Get(h)))
			if len(cc) == 2 && cc != "XX" {
				ev.Properties[PropCountryCode] = cc
				break
			}
		}
	}
	if ev.String(PropIPHash) == "" {
		if ip := ClientIP(r); ip != "" {
			sum := sha256.Sum256([]byte(ip))
			ev.Properties[PropIPHash] = hex.EncodeToString(sum[:])
		}
	}
}

// ClientIP returns the originating client address, preferring proxy headers.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
