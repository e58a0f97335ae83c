package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

const (
	// HeaderUserID is set by the fronting auth gateway after session
	// validation. This service trusts it; it is never exposed publicly.
	HeaderUserID = "X-User-ID"

	contextUserIDKey = "user_id"
)

func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if raw == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		userID, err := snowflake.ParseString(raw)
		if err != nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Set(contextUserIDKey, userID)
		c.Next()
	}
}

func currentUserID(c *gin.Context) (snowflake.ID, bool) {
	v, ok := c.Get(contextUserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(snowflake.ID)
	return id, ok
}
