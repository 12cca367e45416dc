package http

import (
	"net"
	"net/http"
	"strings"

	"github.com/Pranjalshukla1602/task-manager/internal/domain"
)

// deviceFromRequest describes the client for a new session. The client IP
// is the first X-Forwarded-For hop, then X-Real-IP, then the peer address.
func deviceFromRequest(r *http.Request) domain.DeviceInfo {
	ua := r.UserAgent()
	deviceType := "Desktop"
	if strings.Contains(ua, "Mobile") {
		deviceType = "Mobile"
	}
	return domain.DeviceInfo{
		UserAgent:  ua,
		IP:         clientIP(r),
		DeviceType: deviceType,
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
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
