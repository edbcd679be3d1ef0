package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/sells-group/leadscore/internal/failure"
	"github.com/sells-group/leadscore/internal/model"
)

// Header names set by the fronting identity provider.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

// Authenticator looks up the caller of a request. It returns nil when the
// request carries no identity.
type Authenticator interface {
	CurrentUser(r *http.Request) (*model.User, error)
}

// HeaderAuthenticator trusts identity headers injected by an upstream proxy.
type HeaderAuthenticator struct{}

// CurrentUser implements Authenticator.
func (HeaderAuthenticator) CurrentUser(r *http.Request) (*model.User, error) {
	id := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if id == "" {
		return nil, nil
	}
	role := model.RoleUser
	if strings.EqualFold(r.Header.Get(HeaderUserRole), string(model.RoleAdmin)) {
		role = model.RoleAdmin
	}
	return &model.User{ID: id, Role: role}, nil
}

type userKey struct{}

// requireUser rejects requests without an identity and stores the caller in
// the request context.
func requireUser(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, err := auth.CurrentUser(r)
			if err != nil {
				respondFailure(w, r, err)
				return
			}
			if u == nil {
				respondFailure(w, r, failure.Unauthorized("Authentication required"))
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, u)))
		})
	}
}

// UserFrom returns the caller stored by the identity middleware.
func UserFrom(ctx context.Context) *model.User {
	u, _ := ctx.Value(userKey{}).(*model.User)
	return u
}
