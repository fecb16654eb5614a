// Package auth identifies the requesting user. Identity management itself is
// external; this package only answers "who is asking" for ownership checks
// and access grants.
package auth

import (
	"net/http"

	"github.com/draftkeeper/draftkeeper/internal/model"
)

// Identity is the authenticated requester.
type Identity struct {
	ID model.UserID

	// Email is the principal used for provider-side access grants.
	Email string
}

type AuthProvider interface {
	WithHeaderAuthorization() func(http.Handler) http.Handler

	IdentityFromSession(r *http.Request) (Identity, error)
}
