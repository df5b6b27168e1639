package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestAdmissionCeiling(t *testing.T) {
	a := NewAdmission(2)
	if !a.TryAcquire() || !a.TryAcquire() {
		t.Fatalf("expected two slots")
	}
	if a.TryAcquire() {
		t.Fatalf("expected third request to be rejected")
	}
	if a.InFlight() != 2 {
		t.Fatalf("rejected request must not hold a slot, in flight %d", a.InFlight())
	}
	a.Release()
	if !a.TryAcquire() {
		t.Fatalf("expected a slot after release")
	}
}

func TestAdmissionUnlimited(t *testing.T) {
	a := NewAdmission(0)
	for i := 0; i < 100; i++ {
		if !a.TryAcquire() {
			t.Fatalf("unlimited admission rejected request %d", i)
		}
	}
}

func TestAdmitRejectsWhileBusy(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a := NewAdmission(1)

	entered := make(chan struct{})
	release := make(chan struct{})
	r := gin.New()
	r.POST("/analyze", a.Admit(func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": "busy"})
	}), func(c *gin.Context) {
		close(entered)
		<-release
		c.JSON(http.StatusOK, gin.H{"success": true})
	})

	var wg sync.WaitGroup
	wg.Add(1)
	first := httptest.NewRecorder()
	go func() {
		defer wg.Done()
		r.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/analyze", nil))
	}()
	<-entered

	second := httptest.NewRecorder()
	r.ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/analyze", nil))
	if second.Code != http.StatusOK || second.Body.String() != `{"error":"busy","success":false}` {
		t.Fatalf("expected busy envelope, got %d %s", second.Code, second.Body.String())
	}

	close(release)
	wg.Wait()
	if a.InFlight() != 0 {
		t.Fatalf("expected slot to be released, got %d", a.InFlight())
	}
}
