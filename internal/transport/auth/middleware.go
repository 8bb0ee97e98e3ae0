package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"taxledger/internal/domain"
	"taxledger/internal/repository"
)

type ctxKey string

const (
	ActorIDKey   ctxKey = "actorID"
	ActorRoleKey ctxKey = "actorRole"
)

// TokenMiddleware resolves a bearer token to the audited actor identity and
// stores it on the request context. Tokens are also accepted as a query
// parameter so websocket clients can authenticate.
func TokenMiddleware(tokenRepo *repository.ActorTokenRepository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var token *domain.ActorToken

			authHeader := r.Header.Get("Authorization")
			if strings.HasPrefix(authHeader, "Bearer ") {
				plain := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
				if plain != "" {
					if t, err := tokenRepo.FindByPlainToken(r.Context(), plain); err == nil {
						token = t
					}
				}
			}

			if token == nil {
				if plain := r.URL.Query().Get("token"); plain != "" {
					if t, err := tokenRepo.FindByPlainToken(r.Context(), plain); err == nil {
						token = t
					}
				}
			}

			if token == nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			if token.ExpiresAt != nil && token.ExpiresAt.Before(time.Now()) {
				http.Error(w, "Token expired", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ActorIDKey, token.ActorID)
			ctx = context.WithValue(ctx, ActorRoleKey, token.ActorRole)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func GetActorID(ctx context.Context) (string, error) {
	actorID, ok := ctx.Value(ActorIDKey).(string)
	if !ok || actorID == "" {
		return "", errors.New("actor not found in context")
	}
	return actorID, nil
}

func GetActorRole(ctx context.Context) string {
	role, _ := ctx.Value(ActorRoleKey).(string)
	return role
}

// WithActor is used by tests and internal callers to seed the context the way
// TokenMiddleware does.
func WithActor(ctx context.Context, actorID, actorRole string) context.Context {
	ctx = context.WithValue(ctx, ActorIDKey, actorID)
	return context.WithValue(ctx, ActorRoleKey, actorRole)
}
