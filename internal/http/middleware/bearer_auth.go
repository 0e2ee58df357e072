package middleware

import (
	"net/http"

	"github.com/wolfman30/urban-assist/internal/auth"
	"github.com/wolfman30/urban-assist/pkg/logging"
)

// BearerAuth resolves the Authorization header into an auth.Context and
// stores it on the request context. Requests without a usable token get 401.
func BearerAuth(reader *auth.ClaimsReader, logger *logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := auth.BearerToken(r.Header.Get("Authorization"))
			if err != nil {
				writeUnauthorized(w)
				return
			}
			a, err := reader.Read(token)
			if err != nil {
				logger.Debug("rejected bearer token", "path", r.URL.Path, "error", err)
				writeUnauthorized(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithContext(r.Context(), a)))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="urbanassist"`)
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"not authenticated"}` + "\n"))
}
