package restapi

import (
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// requireLAN wraps next and rejects requests whose client address is not
// private, loopback or link-local. With trustProxy set, the first entry of
// X-Forwarded-For is taken as the client address.
func requireLAN(next http.Handler, trustProxy bool, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r, trustProxy)
		if !isPrivateIP(ip) {
			logger.Warn("rejected non-LAN request",
				slog.String("remote", ip),
				slog.String("path", r.URL.Path),
			)
			http.Error(w, "LAN only", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP extracts the client address from the request.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
			return strings.TrimSpace(strings.SplitN(xf, ",", 2)[0])
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// isPrivateIP reports whether ip parses as a private, loopback or link-local
// address. Unparseable addresses are treated as public.
func isPrivateIP(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	return addr.IsPrivate() || addr.IsLoopback() || addr.IsLinkLocalUnicast()
}
