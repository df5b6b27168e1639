package middleware

import "github.com/gin-gonic/gin"

const (
	userIDKey = "userId"
	sourceKey = "analysisSource"
)

// SetUserID records the caller-supplied user id for logging and rate limiting.
func SetUserID(c *gin.Context, userID string) {
	if userID != "" {
		c.Set(userIDKey, userID)
	}
}

// UserIDFromContext returns the user id recorded by SetUserID.
func UserIDFromContext(c *gin.Context) string {
	if c == nil {
		return ""
	}
	id, _ := c.Get(userIDKey)
	s, _ := id.(string)
	return s
}

// SetSource records which analysis source produced the response.
func SetSource(c *gin.Context, source string) {
	c.Set(sourceKey, source)
}
