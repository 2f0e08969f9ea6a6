package middleware

import (
	"crypto/subtle"
	"net/http"

	"payjs-be/internal/config"
	"payjs-be/internal/logger"
	"payjs-be/internal/utils"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// AdminAuth guards operator endpoints with HTTP basic auth checked against a
// bcrypt hash. With no admin configured every request is refused.
func AdminAuth(cfg config.AdminConfig) func(http.Handler) http.Handler {
	hash := []byte(cfg.PasswordHash)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if cfg.User == "" || len(hash) == 0 || !ok ||
				subtle.ConstantTimeCompare([]byte(user), []byte(cfg.User)) != 1 ||
				bcrypt.CompareHashAndPassword(hash, []byte(pass)) != nil {
				logger.FromCtx(r.Context()).Warn("Rejected admin request",
					zap.String("path", r.URL.Path),
					zap.String("user", user),
				)
				w.Header().Set("WWW-Authenticate", `Basic realm="admin"`)
				utils.WriteJSONError(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(utils.WithAdmin(r.Context(), user)))
		})
	}
}
