package auth

import (
	"errors"
	"net/http"

	"github.com/clerk/clerk-sdk-go/v2"
	clerkhttp "github.com/clerk/clerk-sdk-go/v2/http"
	clerkuser "github.com/clerk/clerk-sdk-go/v2/user"
	"github.com/draftkeeper/draftkeeper/internal/model"
	"github.com/rs/zerolog"
)

var authLogger zerolog.Logger

func SetLogger(l zerolog.Logger) {
	authLogger = l
}

type ClerkAuthProvider struct {
	cookieExtractor clerkhttp.AuthorizationOption
}

func NewClerkAuthProvider(clerkKey string) *ClerkAuthProvider {
	clerk.SetKey(clerkKey)

	return &ClerkAuthProvider{
		cookieExtractor: clerkhttp.AuthorizationJWTExtractor(func(r *http.Request) string {
			cookie, err := r.Cookie("__session")
			if err != nil || cookie == nil {
				return ""
			}
			return cookie.Value
		}),
	}
}

func (c *ClerkAuthProvider) WithHeaderAuthorization() func(http.Handler) http.Handler {
	return clerkhttp.WithHeaderAuthorization(c.cookieExtractor)
}

func (c *ClerkAuthProvider) IdentityFromSession(r *http.Request) (Identity, error) {
	claims, ok := clerk.SessionClaimsFromContext(r.Context())
	if !ok {
		return Identity{}, errors.New("failed to get session claims from context")
	}

	usr, err := clerkuser.Get(r.Context(), claims.Subject)
	if err != nil {
		authLogger.Error().Err(err).Str("user_id", claims.Subject).Msg("Failed to fetch user for session")
		return Identity{}, err
	}

	identity := Identity{ID: model.UserID(usr.ID)}
	for _, addr := range usr.EmailAddresses {
		identity.Email = addr.EmailAddress
		break
	}
	if usr.PrimaryEmailAddressID != nil {
		for _, addr := range usr.EmailAddresses {
			if addr.ID == *usr.PrimaryEmailAddressID {
				identity.Email = addr.EmailAddress
				break
			}
		}
	}
	return identity, nil
}
