package middleware

import (
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

// Admission caps the number of analyses in flight. It is advisory back-pressure: a
// request over the limit is turned away immediately rather than queued.
type Admission struct {
	limit    int64
	inFlight atomic.Int64
}

// NewAdmission returns a gate admitting up to limit concurrent requests. A limit <= 0
// admits everything.
func NewAdmission(limit int) *Admission {
	return &Admission{limit: int64(limit)}
}

// TryAcquire reserves a slot. Callers that get true must call Release.
func (a *Admission) TryAcquire() bool {
	n := a.inFlight.Add(1)
	if a.limit > 0 && n > a.limit {
		a.inFlight.Add(-1)
		return false
	}
	return true
}

// Release frees a slot.
func (a *Admission) Release() {
	a.inFlight.Add(-1)
}

// InFlight returns the current number of admitted requests.
func (a *Admission) InFlight() int64 {
	return a.inFlight.Load()
}

// Admit wraps a route with the admission check. reject writes the busy response.
func (a *Admission) Admit(reject gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.TryAcquire() {
			reject(c)
			c.Abort()
			return
		}
		defer a.Release()
		c.Next()
	}
}
