package server

import "net/http"

// SecurityConfig shapes the hardening headers attached to every response.
// Empty fields use locked-down defaults. FrameAncestors is the one knob
// deployments commonly set: the player is embedded by hosting frontends, so
// each trusted embedder must be named for iframes to work at all.
type SecurityConfig struct {
	ContentSecurityPolicy string
	FrameAncestors        string
	FrameOptions          string
	ReferrerPolicy        string
	PermissionsPolicy     string
	ContentTypeOptions    string
}

const defaultFrameAncestors = "'none'"

func buildContentSecurityPolicy(frameAncestors string) string {
	if frameAncestors == "" {
		frameAncestors = defaultFrameAncestors
	}
	directives := []string{
		"default-src 'self'",
		"connect-src 'self'",
		"img-src 'self' data:",
		"script-src 'self'",
		"style-src 'self'",
		"font-src 'self'",
		"object-src 'none'",
		"base-uri 'self'",
		"frame-ancestors " + frameAncestors,
		"form-action 'self'",
	}
	policy := directives[0]
	for _, d := range directives[1:] {
		policy += "; " + d
	}
	return policy
}

// securityHeaders resolves the effective header set once so the middleware
// only copies strings per request.
func securityHeaders(cfg SecurityConfig) [][2]string {
	if cfg.FrameAncestors == "" {
		cfg.FrameAncestors = defaultFrameAncestors
	}
	if cfg.ContentSecurityPolicy == "" {
		cfg.ContentSecurityPolicy = buildContentSecurityPolicy(cfg.FrameAncestors)
	}
	if cfg.FrameOptions == "" {
		cfg.FrameOptions = "DENY"
	}
	if cfg.ReferrerPolicy == "" {
		cfg.ReferrerPolicy = "no-referrer"
	}
	if cfg.PermissionsPolicy == "" {
		cfg.PermissionsPolicy = "camera=(), microphone=(), geolocation=()"
	}
	if cfg.ContentTypeOptions == "" {
		cfg.ContentTypeOptions = "nosniff"
	}

	return [][2]string{
		{"Content-Security-Policy", cfg.ContentSecurityPolicy},
		{"X-Frame-Options", cfg.FrameOptions},
		{"X-Content-Type-Options", cfg.ContentTypeOptions},
		{"Referrer-Policy", cfg.ReferrerPolicy},
		{"Permissions-Policy", cfg.PermissionsPolicy},
	}
}

func securityHeadersMiddleware(cfg SecurityConfig, next http.Handler) http.Handler {
	headers := securityHeaders(cfg)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, h := range headers {
			w.Header().Set(h[0], h[1])
		}
		next.ServeHTTP(w, r)
	})
}
