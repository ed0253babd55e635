package webserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// cors implements the origin matrix of spec §4.3 "CORS" and answers the
// generic OPTIONS preflight. gin-contrib/cors' AllowCredentials is a
// single static flag for the whole middleware; it cannot express this
// matrix, where credentials are allowed or omitted per-origin on the
// very same route, so this is hand-rolled in the same direct
// gin.Context.Header style the teacher's other middleware uses.
func (s *Server) cors() gin.HandlerFunc {
	origins := s.cfg.WebServerAllowedOrigins
	wildcard := len(origins) == 1 && origins[0] == "*"

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")

		switch {
		case wildcard && origin == "":
			c.Header("Access-Control-Allow-Origin", "*")
		case wildcard && origin != "":
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Vary", "Origin")
		case origin != "" && containsOrigin(origins, origin):
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Vary", "Origin")
		}
		// A non-matching origin gets no CORS headers at all.

		if c.Request.Method == http.MethodOptions {
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, "+s.cfg.CorrelationIDHeader)
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func containsOrigin(origins []string, origin string) bool {
	for _, o := range origins {
		if o == origin {
			return true
		}
	}
	return false
}
