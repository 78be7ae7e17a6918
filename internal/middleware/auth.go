package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/pinetree-kr/identity-service/internal/session"
)

// unexported, collision-proof context key
type accountIDContextKeyType struct{}

var accountIDKey = accountIDContextKeyType{}

// AccountIDFromContext extracts the authenticated account ID from context.
func AccountIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(accountIDKey).(string)
	return id, ok
}

type AuthMiddleware struct {
	Store session.Store
}

func NewAuthMiddleware(store session.Store) *AuthMiddleware {
	return &AuthMiddleware{Store: store}
}

func (a *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 1. Read session cookie
		cookie, err := r.Cookie(session.CookieName)
		if err != nil || cookie.Value == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		sessionID := cookie.Value

		// 2. Load session
		sess, err := a.Store.Get(r.Context(), sessionID)
		if err != nil || sess == nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		// 3. Enforce session expiry
		if time.Now().After(sess.ExpiresAt) {
			_ = a.Store.Delete(r.Context(), sessionID)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		// 4. Attach account_id to context
		ctx := context.WithValue(r.Context(), accountIDKey, sess.AccountID)

		// 5. Continue request
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ResolveAccount is the optional-auth variant: it attaches the account
// id when a valid session exists and passes the request through
// otherwise. The OAuth callback uses it to distinguish a plain login
// from an explicit connect-provider action.
func (a *AuthMiddleware) ResolveAccount(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(session.CookieName)
		if err != nil || cookie.Value == "" {
			next.ServeHTTP(w, r)
			return
		}

		sess, err := a.Store.Get(r.Context(), cookie.Value)
		if err != nil || sess == nil || time.Now().After(sess.ExpiresAt) {
			next.ServeHTTP(w, r)
			return
		}

		ctx := context.WithValue(r.Context(), accountIDKey, sess.AccountID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
