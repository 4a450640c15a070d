package auth

import (
	"context"

	"github.com/brindlepay/subscription-service/internal/domain"
)

type contextKey string

const (
	accountKey  contextKey = "account"
	authTypeKey contextKey = "auth_type"
)

// AuthType records which credential authenticated the request.
type AuthType string

const (
	AuthTypeAPIKey AuthType = "api_key"
	AuthTypeCDPJWT AuthType = "cdp_jwt"
	AuthTypeCron   AuthType = "cron"
	AuthTypeNone   AuthType = "none"
)

// WithAccount returns a context carrying the authenticated merchant account.
func WithAccount(ctx context.Context, account *domain.Account, authType AuthType) context.Context {
	ctx = context.WithValue(ctx, accountKey, account)
	return context.WithValue(ctx, authTypeKey, authType)
}

// AccountFrom extracts the authenticated account, if any.
func AccountFrom(ctx context.Context) (*domain.Account, bool) {
	account, ok := ctx.Value(accountKey).(*domain.Account)
	return account, ok && account != nil
}

// TypeFrom reports how the request authenticated.
func TypeFrom(ctx context.Context) AuthType {
	if t, ok := ctx.Value(authTypeKey).(AuthType); ok {
		return t
	}
	return AuthTypeNone
}
