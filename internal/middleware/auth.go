package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"regexp"

	"github.com/mihaisavezi/copilot-gateway/internal/config"
)

var bearerPattern = regexp.MustCompile(`(?i)^Bearer\s+(.+)$`)

// AuthMiddleware gates remote callers. Loopback callers always pass; anyone else must
// present one of the configured access tokens as a bearer token.
type AuthMiddleware struct {
	config *config.Manager
	logger *slog.Logger
}

type authFailure struct {
	code    string
	message string
}

var (
	errMissingAuthorization = &authFailure{
		code:    "missing_authorization",
		message: "Authorization required. Please provide a valid Bearer token.",
	}
	errInvalidAuthorizationFormat = &authFailure{
		code:    "invalid_authorization_format",
		message: "Invalid authorization format. Use: Authorization: Bearer <token>",
	}
	errRemoteAccessDisabled = &authFailure{
		code:    "remote_access_disabled",
		message: "Remote access is not configured. Please set ACCESS_TOKEN environment variable.",
	}
	errInvalidToken = &authFailure{
		code:    "invalid_token",
		message: "Invalid access token.",
	}
)

func NewAuthMiddleware(config *config.Manager, logger *slog.Logger) func(http.Handler) http.Handler {
	am := &AuthMiddleware{
		config: config,
		logger: logger,
	}

	return am.middleware
}

func (am *AuthMiddleware) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failure := am.authenticate(r); failure != nil {
			am.logger.Warn("Authentication failed",
				"code", failure.code,
				"remote_addr", r.RemoteAddr,
				"path", r.URL.Path,
			)
			writeError(w, http.StatusUnauthorized, "authentication_error", failure.code, failure.message)

			return
		}

		next.ServeHTTP(w, r)
	})
}

func (am *AuthMiddleware) authenticate(r *http.Request) *authFailure {
	if isLoopback(r.RemoteAddr) {
		return nil
	}

	header := r.Header.Get("Authorization")
	if header == "" {
		return errMissingAuthorization
	}

	match := bearerPattern.FindStringSubmatch(header)
	if match == nil {
		return errInvalidAuthorizationFormat
	}

	tokens := am.config.Get().AccessTokens
	if len(tokens) == 0 {
		return errRemoteAccessDisabled
	}

	presented := []byte(match[1])
	for _, token := range tokens {
		if subtle.ConstantTimeCompare(presented, []byte(token)) == 1 {
			return nil
		}
	}

	return errInvalidToken
}

// isLoopback covers 127.0.0.0/8, ::1 and IPv4-mapped loopback addresses.
func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}

	ip := net.ParseIP(host)

	return ip != nil && ip.IsLoopback()
}

func writeError(w http.ResponseWriter, status int, errType, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"message": message,
			"type":    errType,
			"code":    code,
		},
	})
}
