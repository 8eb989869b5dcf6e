package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

const defaultCORSMaxAgeSeconds = 600

var (
	defaultCORSAllowedMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	defaultCORSAllowedHeaders = []string{
		"Accept",
		"Content-Type",
		HeaderAPIKey,
		HeaderSessionID,
		HeaderIdempotencyKey,
		HeaderRequestID,
	}
)

type CORSConfig struct {
	// AllowedOrigins accepts exact origins, "*" and "https://*.example.com"
	// style subdomain wildcards.
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	MaxAgeSeconds  int
}

type corsPolicy struct {
	anyOrigin    bool
	exact        map[string]bool
	suffixes     []string
	methods      string
	headers      string
	maxAge       string
	exposeHeader string
}

func newCORSPolicy(cfg CORSConfig) corsPolicy {
	policy := corsPolicy{
		exact:        make(map[string]bool),
		methods:      strings.Join(orDefault(cfg.AllowedMethods, defaultCORSAllowedMethods), ", "),
		headers:      strings.Join(orDefault(cfg.AllowedHeaders, defaultCORSAllowedHeaders), ", "),
		maxAge:       strconv.Itoa(defaultCORSMaxAgeSeconds),
		exposeHeader: HeaderRequestID,
	}
	if cfg.MaxAgeSeconds > 0 {
		policy.maxAge = strconv.Itoa(cfg.MaxAgeSeconds)
	}

	for _, origin := range cleanList(cfg.AllowedOrigins) {
		origin = strings.ToLower(strings.TrimRight(origin, "/"))
		switch {
		case origin == "*":
			policy.anyOrigin = true
		case strings.Contains(origin, "://*."):
			scheme, host, _ := strings.Cut(origin, "://*")
			policy.suffixes = append(policy.suffixes, scheme+"://|"+host)
		default:
			policy.exact[origin] = true
		}
	}
	return policy
}

func (p corsPolicy) allows(origin string) bool {
	if p.anyOrigin {
		return true
	}
	origin = strings.ToLower(origin)
	if p.exact[origin] {
		return true
	}
	for _, suffix := range p.suffixes {
		scheme, host, _ := strings.Cut(suffix, "|")
		if strings.HasPrefix(origin, scheme) && strings.HasSuffix(origin, host) && len(origin) > len(scheme)+len(host) {
			return true
		}
	}
	return false
}

// CORS answers preflight requests from allowed origins and decorates their
// actual requests. Requests from other origins pass through untouched.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	policy := newCORSPolicy(cfg)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			if origin == "" || !policy.allows(origin) {
				next.ServeHTTP(w, r)
				return
			}

			header := w.Header()
			header.Add("Vary", "Origin")
			if policy.anyOrigin {
				header.Set("Access-Control-Allow-Origin", "*")
			} else {
				header.Set("Access-Control-Allow-Origin", origin)
			}
			header.Set("Access-Control-Expose-Headers", policy.exposeHeader)

			if r.Method != http.MethodOptions || r.Header.Get("Access-Control-Request-Method") == "" {
				next.ServeHTTP(w, r)
				return
			}

			header.Add("Vary", "Access-Control-Request-Method")
			header.Add("Vary", "Access-Control-Request-Headers")
			header.Set("Access-Control-Allow-Methods", policy.methods)
			header.Set("Access-Control-Allow-Headers", policy.headers)
			header.Set("Access-Control-Max-Age", policy.maxAge)
			w.WriteHeader(http.StatusNoContent)
		})
	}
}

func orDefault(values, fallback []string) []string {
	if cleaned := cleanList(values); len(cleaned) > 0 {
		return cleaned
	}
	return fallback
}

func cleanList(values []string) []string {
	result := make([]string, 0, len(values))
	for _, raw := range values {
		if value := strings.TrimSpace(raw); value != "" {
			result = append(result, value)
		}
	}
	return result
}
