package auth

import (
	"net/http/httptest"
	"testing"
)

func TestStaticIdentityFromSession(t *testing.T) {
	p := NewStaticAuthProvider()

	t.Run("headers present", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("X-User-Id", "user-1")
		req.Header.Set("X-User-Email", "user-1@example.com")

		identity, err := p.IdentityFromSession(req)
		if err != nil {
			t.Fatalf("IdentityFromSession failed: %v", err)
		}
		if identity.ID != "user-1" || identity.Email != "user-1@example.com" {
			t.Errorf("Unexpected identity: %+v", identity)
		}
	})

	t.Run("missing id header", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		if _, err := p.IdentityFromSession(req); err == nil {
			t.Error("Expected an error without identity headers")
		}
	})
}
