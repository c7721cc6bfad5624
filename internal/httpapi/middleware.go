package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"net"
	"net/http"
	"strings"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// authMiddleware requires a valid bearer token on every path except the
// health check. A constant-time comparison avoids leaking the token
// length/prefix through response timing.
func (s *Server) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if authExemptPaths[r.URL.Path] {
			next(w, r)
			return
		}

		if s.cfg.AuthToken == "" {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "No auth token configured"})
			return
		}

		auth := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AuthToken)) != 1 {
			if s.log != nil {
				s.log.Warn("HTTP API: auth failed", "remote", r.RemoteAddr, "path", r.URL.Path)
			}
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

// rateMiddleware applies the lenient limit to read-mostly status-style
// endpoints and the tight limit to everything else, keyed by client IP.
func (s *Server) rateMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clientIP := r.RemoteAddr
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			clientIP = host
		}
		if clientIP == "" {
			clientIP = "unknown"
		}

		limiter := s.tightLimiter
		if statusPaths[r.URL.Path] {
			limiter = s.lenientLimiter
		}
		if !limiter.Allow(clientIP) {
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
			return
		}
		next(w, r)
	}
}
