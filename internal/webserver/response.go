package webserver

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/evantahler/bun-actionhero-sub000/internal/actionerr"
	"github.com/evantahler/bun-actionhero-sub000/internal/connection"
)

// writeError renders the shared error envelope of spec §6: "Error
// responses share {error:{message, type, timestamp, key?, value?,
// stack?}}". The stack is only included when configured to.
func (s *Server) writeError(c *gin.Context, err *actionerr.Error) {
	inner := gin.H{
		"message":   err.Message,
		"type":      string(err.Kind),
		"timestamp": err.OccurredAt(),
	}
	if err.Key != "" {
		inner["key"] = err.Key
		inner["value"] = err.Value
	}
	if s.cfg.IncludeStackInErrors && err.Cause != nil {
		inner["stack"] = err.Cause.Error()
	}
	if err.Kind == actionerr.ConnectionRateLimited && err.RetryAfter > 0 {
		c.Header("Retry-After", fmt.Sprintf("%.0f", err.RetryAfter.Seconds()))
	}
	c.JSON(err.Status(), gin.H{"error": inner})
}

// writeRateLimitHeaders emits X-RateLimit-* when the rate-limit
// middleware attached info to conn (spec §4.6).
func (s *Server) writeRateLimitHeaders(c *gin.Context, conn *connection.Connection) {
	if conn.RateLimit == nil {
		return
	}
	c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", conn.RateLimit.Limit))
	c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", conn.RateLimit.Remaining))
	c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", conn.RateLimit.ResetAt))
}

// writeSessionCookie always sets the session cookie (spec §6: "Response
// headers (always): ... Set-Cookie for the session cookie").
func (s *Server) writeSessionCookie(c *gin.Context, connID string) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     s.cfg.SessionCookieName,
		Value:    connID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(s.cfg.SessionTTL.Seconds()),
	})
}
