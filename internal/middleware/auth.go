package middleware

import (
	"context"
	"strings"

	"connectrpc.com/connect"

	"github.com/mmynk/tripledger/internal/auth"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// MemberIDKey is the context key for storing the authenticated member ID.
	MemberIDKey contextKey = "member_id"
	// NameKey is the context key for the member's display name.
	NameKey contextKey = "name"
)

// GetMemberID extracts the member ID from the context.
// Returns empty string if not found.
func GetMemberID(ctx context.Context) string {
	memberID, _ := ctx.Value(MemberIDKey).(string)
	return memberID
}

// GetName extracts the member display name from the context.
func GetName(ctx context.Context) string {
	name, _ := ctx.Value(NameKey).(string)
	return name
}

// WithMemberID returns a context carrying memberID as the caller.
func WithMemberID(ctx context.Context, memberID string) context.Context {
	return context.WithValue(ctx, MemberIDKey, memberID)
}

// RequireAuth returns a middleware that validates JWT tokens and requires authentication.
// It extracts the token from the Authorization header, validates it, and adds
// the member ID and name to the request context.
func RequireAuth(jwtManager *auth.JWTManager) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			authHeader := req.Header().Get("Authorization")
			if authHeader == "" {
				return nil, connect.NewError(connect.CodeUnauthenticated, auth.ErrMissingToken)
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				return nil, connect.NewError(connect.CodeUnauthenticated, auth.ErrInvalidToken)
			}

			claims, err := jwtManager.Validate(parts[1])
			if err != nil {
				return nil, connect.NewError(connect.CodeUnauthenticated, err)
			}

			ctx = context.WithValue(ctx, MemberIDKey, claims.MemberID)
			ctx = context.WithValue(ctx, NameKey, claims.Name)
			return next(ctx, req)
		}
	}
}

// BearerToken returns a client interceptor that attaches token to every
// outgoing request. An empty token sends no header.
func BearerToken(token string) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			if token != "" && req.Spec().IsClient {
				req.Header().Set("Authorization", "Bearer "+token)
			}
			return next(ctx, req)
		}
	}
}
