package httpapi

import (
	"context"
	"net/http"
	"strings"

	"danmakuhub/backend/service/auth"
	"danmakuhub/backend/store"
)

type contextKey string

const adminUserContextKey contextKey = "adminUser"

const SessionCookieName = "danmakuhub_session"

func AdminUserFromContext(ctx context.Context) *store.AdminUser {
	user, _ := ctx.Value(adminUserContextKey).(*store.AdminUser)
	return user
}

// SessionRequired protects the admin surface. The player-facing danmaku
// endpoints stay open; only paths under apiBase/admin need a valid session.
func SessionRequired(authSvc *auth.Service, apiBase string) func(http.Handler) http.Handler {
	adminPrefix := apiBase + "/admin"

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			if path != adminPrefix && !strings.HasPrefix(path, adminPrefix+"/") {
				next.ServeHTTP(w, r)
				return
			}

			token := ExtractToken(r)
			if token == "" {
				Error(w, -401, "unauthorized", http.StatusUnauthorized)
				return
			}
			user, err := authSvc.Validate(r.Context(), token)
			if err != nil || user == nil {
				Error(w, -401, "unauthorized", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), adminUserContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func ExtractToken(r *http.Request) string {
	// 1. Authorization: Bearer <token>
	if auth := r.Header.Get("Authorization"); auth != "" {
		const prefix = "Bearer "
		if strings.HasPrefix(auth, prefix) {
			return strings.TrimSpace(auth[len(prefix):])
		}
	}
	// 2. Cookie fallback
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		return strings.TrimSpace(cookie.Value)
	}
	return ""
}
