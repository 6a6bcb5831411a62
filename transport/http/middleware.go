package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/layer-3/txguard/core"
	"github.com/layer-3/txguard/ports"
	"github.com/layer-3/txguard/service"
)

const (
	ctxAccount   = "account"
	ctxSessionID = "sessionID"
)

// SessionMiddleware creates middleware that requires a bearer token for a
// live session
func SessionMiddleware(validator *service.Validator, tokenizer ports.Tokenizer) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")

		// Check if the Authorization header is present and in correct format
		if len(auth) < 8 || auth[:7] != "Bearer " {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header"})
			return
		}

		session, err := tokenizer.TokenToSession(auth[7:])
		if err != nil {
			if errors.Is(err, core.ErrTokenExpired) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Token expired"})
			} else {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			}
			return
		}

		if res := validator.CheckSession(session.SessionID, session.Account); !res.IsValid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, res)
			return
		}

		c.Set(ctxAccount, session.Account)
		c.Set(ctxSessionID, session.SessionID)

		c.Next()
	}
}
