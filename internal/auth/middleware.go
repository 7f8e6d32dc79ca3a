package auth

import (
	"encoding/json"
	"net/http"

	"github.com/micro-nova/audioroute/internal/models"
)

const (
	apiKeyHeader     = "X-Api-Key"
	apiKeyQueryParam = "api-key"
)

// Middleware returns an http.Handler middleware that enforces authentication.
// In open mode (no keys configured), all requests pass through. Otherwise the
// key is taken from the X-Api-Key header or the api-key query parameter;
// reads need any valid key and everything else needs a control key.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.IsOpenMode() || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get(apiKeyHeader)
		if key == "" {
			key = r.URL.Query().Get(apiKeyQueryParam)
		}
		role, ok := s.VerifyKey(key)
		if !ok {
			deny(w, models.ErrUnauthorized("missing or invalid API key"))
			return
		}
		if role != RoleControl && !readOnly(r.Method) {
			deny(w, models.ErrForbidden("key may only observe"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func readOnly(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}

func deny(w http.ResponseWriter, err *models.AppError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Status)
	_ = json.NewEncoder(w).Encode(err)
}
