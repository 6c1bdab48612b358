package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stemsi/codexam/internal/response"
)

// ContextKeySessionID is the Gin context key for the verified session id.
const ContextKeySessionID = "session_id"

// RequireSessionOwner checks that the :id path parameter is the session the
// token was issued for. Run it after RequireSessionJWT.
func RequireSessionOwner() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			response.AbortFail(c, http.StatusBadRequest, response.ErrInvalidID)
			return
		}

		if id != claims.SessionID {
			response.AbortFail(c, http.StatusForbidden, response.ErrSessionMismatch)
			return
		}

		c.Set(ContextKeySessionID, id)
		c.Next()
	}
}

// SessionID returns the id stored by RequireSessionOwner.
func SessionID(c *gin.Context) uuid.UUID {
	v, _ := c.Get(ContextKeySessionID)
	id, _ := v.(uuid.UUID)
	return id
}
