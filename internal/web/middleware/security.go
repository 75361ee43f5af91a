package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/freekieb7/usermanager/internal/config"
)

// SecurityHeadersConfig allows customization of security headers
type SecurityHeadersConfig struct {
	// Enable HSTS (HTTP Strict Transport Security)
	EnableHSTS bool
	// HSTS max age in seconds (default: 1 year)
	HSTSMaxAge int
	// Include subdomains in HSTS
	HSTSIncludeSubdomains bool
	// Content Security Policy
	CSP string
	// Referrer Policy
	ReferrerPolicy string
	// Permissions Policy (formerly Feature Policy)
	PermissionsPolicy string
}

// SecurityHeadersFromConfig creates SecurityHeadersConfig from the security settings
func SecurityHeadersFromConfig(cfg config.Security) SecurityHeadersConfig {
	return SecurityHeadersConfig{
		EnableHSTS:            cfg.EnableHSTS,
		HSTSMaxAge:            cfg.HSTSMaxAge,
		HSTSIncludeSubdomains: cfg.HSTSIncludeSubdomains,
		CSP:                   cfg.ContentSecurityPolicy,
		ReferrerPolicy:        cfg.ReferrerPolicy,
		PermissionsPolicy:     cfg.PermissionsPolicy,
	}
}

func SecurityHeadersWithConfig(config SecurityHeadersConfig) func(http.Handler) http.Handler {
	hsts := fmt.Sprintf("max-age=%d", config.HSTSMaxAge)
	if config.HSTSIncludeSubdomains {
		hsts += "; includeSubDomains"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Prevent MIME type sniffing
			w.Header().Set("X-Content-Type-Options", "nosniff")

			// Prevent clickjacking
			w.Header().Set("X-Frame-Options", "DENY")

			if config.EnableHSTS {
				w.Header().Set("Strict-Transport-Security", hsts)
			}

			if config.CSP != "" {
				w.Header().Set("Content-Security-Policy", config.CSP)
			}

			if config.ReferrerPolicy != "" {
				w.Header().Set("Referrer-Policy", config.ReferrerPolicy)
			}

			if config.PermissionsPolicy != "" {
				w.Header().Set("Permissions-Policy", config.PermissionsPolicy)
			}

			w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
			w.Header().Set("Cross-Origin-Resource-Policy", "same-origin")
			w.Header().Set("X-Permitted-Cross-Domain-Policies", "none")

			// Remove server information and version disclosure
			w.Header().Del("X-Powered-By")

			// Credentials never end up in a shared cache
			if isSensitivePath(r.URL.Path) {
				w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate, private")
				w.Header().Set("Pragma", "no-cache")
				w.Header().Set("Expires", "0")
			}

			next.ServeHTTP(w, r)
		})
	}
}

// InputValidationMiddleware limits the request body and accepts only form posts.
func InputValidationMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Forms here are tiny, 1MB is plenty
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

			if r.Method == http.MethodPost {
				contentType := r.Header.Get("Content-Type")
				if contentType != "" && !strings.HasPrefix(contentType, "application/x-www-form-urlencoded") {
					http.Error(w, "Unsupported Content-Type", http.StatusUnsupportedMediaType)
					return
				}
			}

			// Validate Host header to prevent Host header injection
			if r.Host == "" {
				http.Error(w, "Missing Host header", http.StatusBadRequest)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// isSensitivePath reports whether the path handles credentials.
func isSensitivePath(path string) bool {
	for _, sensitivePath := range []string{"/login", "/logout"} {
		if strings.HasPrefix(path, sensitivePath) {
			return true
		}
	}
	return false
}
