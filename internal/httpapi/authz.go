package httpapi

import (
	"net/http"

	"warden.org/internal/audit"
	"warden.org/internal/auth"
)

// RequireRole is the authorization gate. The allowed set is fixed at route
// registration; the check itself is pure apart from the denial audit entry.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		if auth.ValidRoleName(role) {
			allowed[role] = struct{}{}
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := auth.IdentityFromContext(r.Context())
			if !ok {
				// No identity means the authentication gate never ran
				// ahead of this one.
				w.Header().Set("WWW-Authenticate", `Bearer realm="warden"`)
				writeError(w, r, http.StatusUnauthorized, "authentication required")
				return
			}
			if _, ok := allowed[identity.Role]; !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="warden", error="insufficient_scope"`)
				_ = audit.WarnEvent(r.Context(), "authz.denied", map[string]any{
					"email": identity.Email,
					"role":  identity.Role,
					"path":  r.URL.Path,
				})
				writeError(w, r, http.StatusForbidden, "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
