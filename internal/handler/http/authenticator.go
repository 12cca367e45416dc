package http

import (
	"context"

	"github.com/Pranjalshukla1602/task-manager/internal/service"
	"github.com/Pranjalshukla1602/task-manager/pkg/middleware"
)

// NewTokenValidator bridges middleware.Auth to the auth service. The raw
// token rides along in the Principal so handlers can address the caller's
// own session.
func NewTokenValidator(svc *service.AuthService) middleware.TokenValidator {
	return func(ctx context.Context, token string) (*middleware.Principal, error) {
		user, err := svc.Authenticate(ctx, token)
		if err != nil {
			return nil, err
		}
		return &middleware.Principal{
			UserID: user.ID,
			Email:  user.Email,
			Token:  token,
		}, nil
	}
}
