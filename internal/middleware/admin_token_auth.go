package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"dynamic-graphql/internal/logging"
	"dynamic-graphql/internal/observability"
)

const defaultAdminTokenHeader = "X-Admin-Token"

// Admin token check outcomes, used as the metrics "outcome" attribute.
const (
	AdminAccessGranted      = "granted"
	AdminAccessMissingToken = "missing_token"
	AdminAccessWrongToken   = "wrong_token"
)

// AdminTokenAuthConfig guards the /admin routes with a shared token.
type AdminTokenAuthConfig struct {
	Token      string
	HeaderName string
	Metrics    *observability.AdminMetrics
}

// AdminTokenAuthMiddleware accepts the token from HeaderName (default
// X-Admin-Token) or as "Authorization: Bearer <token>". Rejected requests get
// a 401 envelope and are logged with the route they targeted.
func AdminTokenAuthMiddleware(cfg AdminTokenAuthConfig) (func(http.Handler) http.Handler, error) {
	expected := strings.TrimSpace(cfg.Token)
	if expected == "" {
		return nil, errors.New("admin auth token is required")
	}
	header := strings.TrimSpace(cfg.HeaderName)
	if header == "" {
		header = defaultAdminTokenHeader
	}
	expectedDigest := sha256.Sum256([]byte(expected))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			outcome := checkAdminToken(presentedToken(r, header), expectedDigest)
			route := AdminRoute(r.URL.Path)
			cfg.Metrics.RecordAdminAccess(r.Context(), route, outcome)

			if outcome != AdminAccessGranted {
				logging.FromContext(r.Context()).Warn("admin request rejected",
					slog.String("route", route),
					slog.String("reason", outcome),
					slog.String("remote_addr", r.RemoteAddr),
				)
				w.Header().Set("WWW-Authenticate", `Bearer realm="admin"`)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}, nil
}

func presentedToken(r *http.Request, header string) string {
	if token := strings.TrimSpace(r.Header.Get(header)); token != "" {
		return token
	}
	if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(bearer)
	}
	return ""
}

// checkAdminToken compares digests so the comparison time does not depend
// on the presented token's length.
func checkAdminToken(presented string, expectedDigest [sha256.Size]byte) string {
	if presented == "" {
		return AdminAccessMissingToken
	}
	digest := sha256.Sum256([]byte(presented))
	if subtle.ConstantTimeCompare(digest[:], expectedDigest[:]) != 1 {
		return AdminAccessWrongToken
	}
	return AdminAccessGranted
}

// AdminRoute collapses resolver names and backend kinds out of an admin path
// so metric and log attributes stay low-cardinality.
func AdminRoute(path string) string {
	switch {
	case path == "/admin/resolvers" || path == "/admin/reload-schema" || path == "/admin/schema/validate":
		return path
	case strings.HasPrefix(path, "/admin/resolvers/"):
		return "/admin/resolvers/{name}"
	case strings.HasPrefix(path, "/admin/backends/"):
		return backendRoute(strings.Split(strings.TrimPrefix(path, "/admin/backends/"), "/"))
	default:
		return "/admin/*"
	}
}

func backendRoute(segments []string) string {
	switch {
	case len(segments) == 2 && segments[1] == "status":
		return "/admin/backends/{kind}/status"
	case len(segments) == 2 && segments[1] == "tables":
		return "/admin/backends/{kind}/tables"
	case len(segments) == 3 && segments[1] == "tables":
		return "/admin/backends/{kind}/tables/{table}"
	default:
		return "/admin/*"
	}
}

// writeJSONError writes the {success:false,message} payload used by every
// non-GraphQL endpoint.
func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}{Success: false, Message: message})
}
