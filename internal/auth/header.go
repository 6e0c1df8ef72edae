package auth

import (
	"net/http"
	"strings"
)

// CredentialFromRequest returns the raw credential carried by r: the token of
// an "Authorization: Bearer" header, else the X-API-Key header. It returns ""
// when neither is present.
func CredentialFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}
