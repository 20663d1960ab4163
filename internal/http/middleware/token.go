package middleware

import (
	"log/slog"
	"net/http"

	"github.com/jmylchreest/dashflow/internal/urlsign"
)

// TokenQuery expands a sealed token query parameter back into plain query
// parameters before the handler runs. Requests without a token pass through
// untouched; a token that fails to open is rejected so tampered URLs never
// reach the upstream fetch path.
func TokenQuery(signer *urlsign.TokenSigner, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.URL.Query().Get(urlsign.TokenParam)
			if token == "" || signer == nil {
				next.ServeHTTP(w, r)
				return
			}

			params, err := signer.Open(token)
			if err != nil {
				logger.WarnContext(r.Context(), "rejecting unopenable token",
					slog.String("path", r.URL.Path),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				http.Error(w, "invalid token", http.StatusForbidden)
				return
			}

			q := r.URL.Query()
			q.Del(urlsign.TokenParam)
			for key, values := range params {
				for _, value := range values {
					q.Add(key, value)
				}
			}
			r.URL.RawQuery = q.Encode()

			next.ServeHTTP(w, r)
		})
	}
}
