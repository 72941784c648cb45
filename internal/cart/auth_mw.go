package cart

import (
	"context"
	"net/http"

	"github.com/FaustProMaxPX/Takeaway-Mall/internal/identity"
	"github.com/FaustProMaxPX/Takeaway-Mall/pkg/kit"
)

type ctxKey string

const userKey ctxKey = "user_id"

func UserIDFromContext(ctx context.Context) (string, bool) {
	uid, ok := ctx.Value(userKey).(string)
	return uid, ok && uid != ""
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey, userID)
}

// AuthJWT resolves the caller from the bearer token. Authorization beyond
// "this is user X" is not the cart's business.
func AuthJWT(v *identity.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok, ok := kit.BearerToken(r)
			if !ok {
				kit.WriteError(w, r, http.StatusUnauthorized, "unauthorized", "missing token", nil)
				return
			}

			uid, err := v.UserID(tok)
			if err != nil {
				kit.WriteError(w, r, http.StatusUnauthorized, "unauthorized", "invalid token", nil)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), uid)))
		})
	}
}

// userRateKey keys the limiter by user, falling back to the client address
// for requests that have not been authenticated yet.
func userRateKey(r *http.Request) string {
	if uid, ok := UserIDFromContext(r.Context()); ok {
		return "u:" + uid
	}
	return "ip:" + kit.ClientIP(r)
}
