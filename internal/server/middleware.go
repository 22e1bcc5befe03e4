package server

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"
)

const HeaderAdminToken = "X-Admin-Token"

// AdminTokenRequired guards operator routes. Without ADMIN_TOKEN the routes are only
// reachable in development.
func (s *Server) AdminTokenRequired() gin.HandlerFunc {
	expected := strings.TrimSpace(s.cfg.AdminToken)
	return func(c *gin.Context) {
		if expected == "" {
			if s.cfg.IsDevelopment() {
				c.Next()
				return
			}
			AbortWithError(c, ErrForbidden)
			return
		}
		provided := strings.TrimSpace(c.GetHeader(HeaderAdminToken))
		if provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Next()
	}
}
