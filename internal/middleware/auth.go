package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/kanisahub/giving-backend/internal/api/httpx"
	"github.com/kanisahub/giving-backend/internal/auth"
)

type ctxKey string

const (
	ctxSubjectKey ctxKey = "sub"
	ctxRoleKey    ctxKey = "role"
)

func Subject(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxSubjectKey).(string)
	return v, ok
}

func Role(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxRoleKey).(string)
	return v, ok
}

type AuthMiddleware struct {
	TM *auth.TokenManager
}

func NewAuthMiddleware(tm *auth.TokenManager) *AuthMiddleware {
	return &AuthMiddleware{TM: tm}
}

// RequireStaff guards the finance endpoints: manual verification, pledge
// cancellation, campaign administration.
func (m *AuthMiddleware) RequireStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ah := r.Header.Get("Authorization")
		if ah == "" || !strings.HasPrefix(strings.ToLower(ah), "bearer ") {
			httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token", nil)
			return
		}
		token := strings.TrimSpace(ah[len("Bearer "):])

		claims, isRefresh, err := m.TM.ParseAny(token)
		if err != nil || isRefresh {
			httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid access token", nil)
			return
		}
		if claims.Role != "staff" {
			httpx.WriteError(w, http.StatusForbidden, "forbidden", "staff role required", nil)
			return
		}
		ctx := context.WithValue(r.Context(), ctxSubjectKey, claims.Subject)
		ctx = context.WithValue(ctx, ctxRoleKey, claims.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
