package api

import (
	"context"
	"net/http"

	"github.com/PabloMarzol/nebu-debug-sub015/pkg/engine"
)

type contextKey string

const userIDKey contextKey = "userID"

// withIdentity extracts the authenticated user id supplied by the identity
// collaborator. The engine trusts the id it is given; in the demo the
// session layer forwards it as the X-User-ID header. Reserved synthetic ids
// are rejected so callers cannot impersonate the bots.
func withIdentity(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User-ID")
		if userID == "" {
			respondError(w, http.StatusUnauthorized, "missing user identity", "")
			return
		}
		if userID == engine.MarketMakerID || userID == engine.HouseTraderID {
			respondError(w, http.StatusForbidden, "reserved user id", "")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	}
}

func userID(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}
