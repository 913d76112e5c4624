package utils

import (
	"net"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smarttransit/payment-service/internal/models"
)

// GetRealIP extracts the client IP address behind reverse proxies.
//
// Order: X-Real-IP (if public), then the first public address in X-Forwarded-For,
// then the first valid X-Forwarded-For entry, then gin's ClientIP.
func GetRealIP(c *gin.Context) string {
	realIP := strings.TrimSpace(c.Request.Header.Get("X-Real-IP"))
	if ip := net.ParseIP(realIP); ip != nil && !isPrivateIP(ip) {
		return realIP
	}

	if forwarded := c.Request.Header.Get("X-Forwarded-For"); forwarded != "" {
		entries := strings.Split(forwarded, ",")
		for _, entry := range entries {
			candidate := strings.TrimSpace(entry)
			if ip := net.ParseIP(candidate); ip != nil && !isPrivateIP(ip) && !ip.IsLoopback() {
				return candidate
			}
		}
		if first := strings.TrimSpace(entries[0]); net.ParseIP(first) != nil {
			return first
		}
	}

	return c.ClientIP()
}

// RequestOrigin builds the caller metadata recorded in payment history
func RequestOrigin(c *gin.Context) models.RequestOrigin {
	return models.RequestOrigin{
		IPAddress: GetRealIP(c),
		UserAgent: SummarizeUserAgent(c.Request.UserAgent()),
	}
}

func isPrivateIP(ip net.IP) bool {
	if ip == nil {
		return false
	}
	return ip.IsPrivate()
}
