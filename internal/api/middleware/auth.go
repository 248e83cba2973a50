package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/slotwatch/slotwatch/internal/api/models"
	"github.com/slotwatch/slotwatch/internal/auth"
)

// TokenValidator validates bearer tokens.
type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

type subjectKey struct{}

// RequireScope rejects requests without a valid bearer token carrying scope.
// The token subject is stored in the request context.
func RequireScope(validator TokenValidator, scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeProblem(w, r, models.NewUnauthorized(GetRequestID(r.Context()), "missing or malformed bearer token"))
				return
			}

			claims, err := validator.Validate(token)
			if err != nil {
				detail := "invalid trigger token"
				if errors.Is(err, auth.ErrTokenExpired) {
					detail = "trigger token has expired"
				}
				writeProblem(w, r, models.NewUnauthorized(GetRequestID(r.Context()), detail))
				return
			}

			if !claims.HasScope(scope) {
				writeProblem(w, r, models.NewForbidden(GetRequestID(r.Context()), auth.ErrMissingScope.Error()))
				return
			}

			ctx := context.WithValue(r.Context(), subjectKey{}, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken extracts the token from an Authorization header. The scheme
// is matched case-insensitively.
func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// writeProblem lives here rather than in response to avoid an import cycle.
func writeProblem(w http.ResponseWriter, r *http.Request, p *models.Problem) {
	p.WithInstance(r.URL.Path).Write(w)
}

// GetSubject returns the authenticated token subject, or "".
func GetSubject(ctx context.Context) string {
	if s, ok := ctx.Value(subjectKey{}).(string); ok {
		return s
	}
	return ""
}
