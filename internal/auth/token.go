// Package auth reads the caller's access token from a request.
package auth

import (
	"net/http"
	"strings"
)

// AccessTokenCookie is set by the account frontend after login.
const AccessTokenCookie = "access_token"

// ExtractAccessToken returns the token from the access cookie, or from a
// Bearer Authorization header when the cookie is absent or empty.
func ExtractAccessToken(r *http.Request) string {
	if cookie, err := r.Cookie(AccessTokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return BearerToken(r)
}

func BearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, prefix))
}
