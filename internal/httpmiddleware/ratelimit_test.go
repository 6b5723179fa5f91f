package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"presence/internal/auth"
)

// claimsFor installs parsed claims the way the bearer middleware does,
// keyed off a request header so tests can switch accounts.
func claimsFor(header string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if acct := c.GetHeader(header); acct != "" {
			c.Set(auth.ClaimsKey, auth.Claims{Subject: acct})
		}
		c.Next()
	}
}

func hit(r *gin.Engine, acct string) int {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = "203.0.113.9:1234"
	if acct != "" {
		req.Header.Set("X-Account", acct)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestGinMiddleware_AuthenticatedRequestsKeyedPerAccount(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(claimsFor("X-Account"))
	r.Use(NewSimpleTokenBucket(1, 1).GinMiddleware())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	// Two accounts behind one IP each get their own bucket.
	if code := hit(r, "acct-1"); code != http.StatusOK {
		t.Fatalf("first account's first request should pass, got %d", code)
	}
	if code := hit(r, "acct-2"); code != http.StatusOK {
		t.Errorf("second account sharing the IP must not be throttled, got %d", code)
	}
	if code := hit(r, "acct-1"); code != http.StatusTooManyRequests {
		t.Errorf("same account over capacity should be throttled, got %d", code)
	}
}

func TestGinMiddleware_AnonymousRequestsKeyedPerIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(NewSimpleTokenBucket(1, 1).GinMiddleware())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	if code := hit(r, ""); code != http.StatusOK {
		t.Fatalf("first anonymous request should pass, got %d", code)
	}
	if code := hit(r, ""); code != http.StatusTooManyRequests {
		t.Errorf("second anonymous request from the same IP should be throttled, got %d", code)
	}
}
