// Package http serves the admin API: tenant configuration reads and writes,
// cache invalidation and mapping listing.
package http

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
)

var tenantIDPattern = regexp.MustCompile(`^[A-Za-z0-9_\-:.]{1,128}$`)

func isValidTenantID(id string) bool { return tenantIDPattern.MatchString(id) }

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// requireToken rejects requests without the admin bearer token. An empty
// token leaves the API open, which is only sensible on loopback.
func requireToken(token string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if token != "" && extractBearerToken(r) != token {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
