package middleware

import (
	"fmt"
	"net/http"
	"strings"
)

// CacheConfig represents caching configuration options
type CacheConfig struct {
	MaxAge    int  // Cache duration in seconds
	Public    bool // Whether cache is public or private
	NoStore   bool // Whether to prevent storing
	Immutable bool // Whether content is immutable
}

func (c CacheConfig) header() string {
	if c.NoStore {
		return "no-store, no-cache, must-revalidate, private"
	}

	directives := []string{"private"}
	if c.Public {
		directives[0] = "public"
	}
	if c.MaxAge > 0 {
		directives = append(directives, fmt.Sprintf("max-age=%d", c.MaxAge))
	}
	if c.Immutable {
		directives = append(directives, "immutable")
	}
	return strings.Join(directives, ", ")
}

// CacheControl sets the Cache-Control header described by config.
func CacheControl(config CacheConfig) func(http.Handler) http.Handler {
	value := config.header()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", value)
			if config.NoStore {
				w.Header().Set("Pragma", "no-cache")
				w.Header().Set("Expires", "0")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// StaticCache caches embedded assets for a day.
func StaticCache() func(http.Handler) http.Handler {
	return CacheControl(CacheConfig{
		MaxAge: 86400,
		Public: true,
	})
}

// NoStore keeps pages out of every cache. User data is always read fresh from the
// backend.
func NoStore() func(http.Handler) http.Handler {
	return CacheControl(CacheConfig{NoStore: true})
}
