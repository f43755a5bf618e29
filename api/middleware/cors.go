package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

const corsMaxAgeSeconds = 300

// CORS lets browser clients call the wallet API from origins. With no origins
// configured only the local dashboard dev server is allowed.
func CORS(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", idempotencyKeyHeader, requestIDHeader},
		ExposedHeaders: []string{
			requestIDHeader,
			replayedHeader,
			rateLimitRemainingHeader,
			"Retry-After",
		},
		AllowCredentials: true,
		MaxAge:           corsMaxAgeSeconds,
	})
}
