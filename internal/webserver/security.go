package webserver

import (
	"github.com/gin-contrib/secure"
	"github.com/gin-gonic/gin"
)

// securityHeaders wires the fixed header set of spec §4.3 "Security
// headers" through gin-contrib/secure, the teacher's own already-required
// (but previously unwired) dependency for this concern.
func (s *Server) securityHeaders() gin.HandlerFunc {
	return secure.New(secure.Config{
		STSSeconds:            31536000,
		STSIncludeSubdomains:  true,
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		ContentSecurityPolicy: "default-src 'self'",
		ReferrerPolicy:        "strict-origin-when-cross-origin",
	})
}

// correlationID echoes the configured header only when trustProxy is
// enabled and the request carried it (spec §4.3 "Correlation IDs":
// "Never generate one").
func (s *Server) correlationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.CorrelationIDTrustProxy {
			if v := c.GetHeader(s.cfg.CorrelationIDHeader); v != "" {
				c.Header(s.cfg.CorrelationIDHeader, v)
			}
		}
		c.Next()
	}
}

// serverName stamps X-SERVER-NAME on every response (spec §6 "Response
// headers (always)"), sourced from Config.ProcessName.
func (s *Server) serverName() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-SERVER-NAME", s.cfg.ProcessName)
		c.Next()
	}
}
