package middleware

import (
	"net"
	"net/http"

	"github.com/fintrack/bank-sync/pkg/logger"
)

// SourceAllowlist rejects requests whose peer address is outside the
// configured CIDRs. Provider webhooks come from published address ranges;
// anything else gets 403 before the body is even read.
type SourceAllowlist struct {
	nets []*net.IPNet
}

// NewSourceAllowlist parses the configured CIDRs. Bare IPs are accepted as
// /32 (or /128). Malformed entries are skipped. An empty allow-list means
// the check is disabled (local development).
func NewSourceAllowlist(cidrs []string) *SourceAllowlist {
	a := &SourceAllowlist{}
	for _, raw := range cidrs {
		if _, ipNet, err := net.ParseCIDR(raw); err == nil {
			a.nets = append(a.nets, ipNet)
			continue
		}
		if ip := net.ParseIP(raw); ip != nil {
			bits := 32
			if ip.To4() == nil {
				bits = 128
			}
			a.nets = append(a.nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
		}
	}
	return a
}

func (a *SourceAllowlist) Allowed(remoteAddr string) bool {
	if len(a.nets) == 0 {
		return true
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	for _, n := range a.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func (a *SourceAllowlist) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Allowed(r.RemoteAddr) {
			log := logger.FromContext(r.Context())
			log.Warn("webhook from disallowed source", "remote_addr", r.RemoteAddr)
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
