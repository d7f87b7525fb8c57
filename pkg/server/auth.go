package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/lightearth/lightearth-proxy/pkg/log"
)

// adminMiddleware only lets through requests carrying an ID token for one of
// the configured admin emails.
func (s *Server) adminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if s.bypassAuth {
			ctx = context.WithValue(ctx, adminEmailContextKey, "bypass")
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeJSONError(w, "missing auth token", http.StatusUnauthorized)
			return
		}
		token, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok {
			log.Ctx(ctx).WarnContext(ctx, "invalid auth header")
			writeJSONError(w, "invalid auth header", http.StatusBadRequest)
			return
		}

		email, err := s.authenticateToken(ctx, token)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "auth token validation failed", slog.Any("error", err))
			writeJSONError(w, "invalid auth token", http.StatusUnauthorized)
			return
		}
		if !s.isAdmin(email) {
			log.Ctx(ctx).WarnContext(ctx, "unauthorized admin access", slog.String("email", email))
			writeJSONError(w, "forbidden", http.StatusForbidden)
			return
		}

		ctx = context.WithValue(ctx, adminEmailContextKey, email)
		ctx = log.WithAttrs(ctx, slog.String("admin", email))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) getAdminEmail(r *http.Request) string {
	if email, ok := r.Context().Value(adminEmailContextKey).(string); ok {
		return email
	}
	// we want to have a stack trace when this happens
	panic("no admin in context")
}

// isAdmin returns true if the email is in the adminEmails list.
func (s *Server) isAdmin(email string) bool {
	if email == "" {
		return false
	}
	for _, adminEmail := range s.adminEmails {
		if strings.EqualFold(email, adminEmail) {
			return true
		}
	}
	return false
}

// authenticateToken validates the token with every configured provider and
// returns the email of the first one that accepts it.
func (s *Server) authenticateToken(ctx context.Context, token string) (string, error) {
	var errs []error

	for providerName, verifier := range s.oidcVerifiers {
		idToken, err := verifier(ctx, token)
		if err == nil {
			var claims struct {
				Email         string `json:"email"`
				EmailVerified *bool  `json:"email_verified"`
			}
			err = idToken.Claims(&claims)
			if err == nil {
				if claims.EmailVerified != nil && !*claims.EmailVerified {
					err = errors.New("email not verified")
				} else {
					return claims.Email, nil
				}
			}
		}
		errs = append(errs, fmt.Errorf("%s verifier failed: %v", providerName, err))
	}

	if len(errs) > 1 {
		return "", errors.Join(errs...)
	}
	if len(errs) == 1 {
		return "", errs[0]
	}
	return "", errors.New("no valid audiences configured or token invalid")
}
