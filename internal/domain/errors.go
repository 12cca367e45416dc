package domain

import (
	"errors"
	"net/http"

	apperrors "github.com/Pranjalshukla1602/task-manager/pkg/errors"
)

// Authentication failure kinds. Each constructor below returns an AppError
// matching both its kind and the generic pkg/errors sentinel.
var (
	ErrDuplicateEmail       = errors.New("duplicate email")
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrAccountLocked        = errors.New("account locked")
	ErrInvalidRefreshToken  = errors.New("invalid refresh token")
	ErrRefreshTokenExpired  = errors.New("refresh token expired")
	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	ErrSessionNotFound      = errors.New("session not found")
)

const (
	CodeValidation           = "VALIDATION_ERROR"
	CodeDuplicateEmail       = "DUPLICATE_EMAIL"
	CodeInvalidCredentials   = "INVALID_CREDENTIALS"
	CodeAccountLocked        = "ACCOUNT_LOCKED"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeInvalidRefreshToken  = "INVALID_REFRESH_TOKEN"
	CodeRefreshTokenExpired  = "REFRESH_TOKEN_EXPIRED"
	CodeRefreshTokenNotFound = "REFRESH_TOKEN_NOT_FOUND"
	CodeNotFound             = "NOT_FOUND"
)

func DuplicateEmail() *apperrors.AppError {
	return apperrors.New(CodeDuplicateEmail, "User already exists with this email",
		http.StatusBadRequest, ErrDuplicateEmail, apperrors.ErrAlreadyExists)
}

// InvalidCredentials is shared by unknown, inactive and wrong-password logins.
func InvalidCredentials() *apperrors.AppError {
	return apperrors.New(CodeInvalidCredentials, "Invalid credentials",
		http.StatusUnauthorized, ErrInvalidCredentials, apperrors.ErrUnauthorized)
}

func AccountLocked() *apperrors.AppError {
	return apperrors.New(CodeAccountLocked, "Account temporarily locked due to too many failed login attempts",
		http.StatusLocked, ErrAccountLocked, apperrors.ErrLocked)
}

func InvalidRefreshToken() *apperrors.AppError {
	return apperrors.New(CodeInvalidRefreshToken, "Invalid refresh token",
		http.StatusUnauthorized, ErrInvalidRefreshToken, apperrors.ErrUnauthorized)
}

func RefreshTokenExpired() *apperrors.AppError {
	return apperrors.New(CodeRefreshTokenExpired, "Refresh token expired",
		http.StatusUnauthorized, ErrRefreshTokenExpired, apperrors.ErrUnauthorized)
}

func RefreshTokenNotFound() *apperrors.AppError {
	return apperrors.New(CodeRefreshTokenNotFound, "Refresh token not found or expired",
		http.StatusUnauthorized, ErrRefreshTokenNotFound, apperrors.ErrUnauthorized)
}

func SessionNotFound() *apperrors.AppError {
	return apperrors.New(CodeNotFound, "Session not found",
		http.StatusNotFound, ErrSessionNotFound, apperrors.ErrNotFound)
}

// Unauthorized is the request-gate failure; message tells the client why.
func Unauthorized(message string) *apperrors.AppError {
	return apperrors.New(CodeUnauthorized, message, http.StatusUnauthorized, apperrors.ErrUnauthorized)
}
