// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package middleware

import (
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/ManuGH/vegtrace/internal/log"
)

var proxyHeaders = []string{
	"Forwarded",
	"X-Forwarded-For",
	"X-Forwarded-Host",
	"X-Forwarded-Proto",
}

// SameOrigin rejects state-changing browser requests whose Origin (or
// Referer) is neither the control server itself nor listed in allowed.
// Requests without either header come from non-browser clients such as
// the CLI and pass.
func SameOrigin(allowed []string) func(http.Handler) http.Handler {
	origins := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if n, ok := normalizeOrigin(o); ok {
			origins[n] = true
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}
			origin, present := requestOrigin(r)
			if !present {
				next.ServeHTTP(w, r)
				return
			}
			if origin != "" && (origins[origin] || origin == selfOrigin(r)) {
				next.ServeHTTP(w, r)
				return
			}
			logger := log.WithComponentFromContext(r.Context(), "control.csrf")
			logger.Warn().Str(log.FieldEvent, "control.origin_rejected").Str("origin", origin).Msg("cross-origin request rejected")
			WriteJSON(w, http.StatusForbidden, ErrorBody{
				Error:     "forbidden",
				Detail:    "origin not trusted",
				RequestID: log.RequestIDFromContext(r.Context()),
			})
		})
	}
}

// requestOrigin reports the normalized browser origin and whether the
// request carried one at all. A malformed header yields ("", true).
func requestOrigin(r *http.Request) (string, bool) {
	if raw := r.Header.Get("Origin"); raw != "" {
		n, _ := normalizeOrigin(raw)
		return n, true
	}
	raw := r.Header.Get("Referer")
	if raw == "" {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", true
	}
	n, _ := normalizeOrigin(u.Scheme + "://" + u.Host)
	return n, true
}

// selfOrigin is only trusted when no proxy rewrote the request.
func selfOrigin(r *http.Request) string {
	for _, h := range proxyHeaders {
		if r.Header.Get(h) != "" {
			return ""
		}
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	n, _ := normalizeOrigin(scheme + "://" + r.Host)
	return n
}

func normalizeOrigin(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		return scheme + "://" + net.JoinHostPort(host, port), true
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return scheme + "://" + host, true
}
