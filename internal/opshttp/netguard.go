package opshttp

import (
	"net"
	"net/http"
	"net/netip"

	"github.com/permittrack/permit-api/internal/httpjson"
	"github.com/permittrack/permit-api/internal/log"
)

// requireNonPublicNetwork answers 403 unless the peer is loopback, private
// or link-local. IPv4-mapped IPv6 peers are judged by their IPv4 address.
func requireNonPublicNetwork(L log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !nonPublicPeer(r.RemoteAddr) {
			L.Warn(r.Context(), "admin request from public address rejected",
				"network.peer.address", r.RemoteAddr,
				"url.path", r.URL.Path,
			)
			_ = httpjson.Error(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func nonPublicPeer(remote string) bool {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return false
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	return addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast()
}
