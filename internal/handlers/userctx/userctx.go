package userctx

import (
	"context"

	"github.com/nkiryanov/gopherauth/internal/models"
)

type ctxKey string

const accountKey ctxKey = "account"

// Create a new context with the authenticated account
func New(ctx context.Context, acc models.Account) context.Context {
	return context.WithValue(ctx, accountKey, acc)
}

// Extract the account from the context
func FromContext(ctx context.Context) (models.Account, bool) {
	acc, ok := ctx.Value(accountKey).(models.Account)
	return acc, ok
}
