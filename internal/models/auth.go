package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// LoginRequest holds credentials. Staff sign in with an email address, parents
// with their child's NISN.
type LoginRequest struct {
	Email     string `json:"email" validate:"omitempty,email"`
	NISN      string `json:"nisn" validate:"omitempty,len=10,numeric"`
	Password  string `json:"password" validate:"required"`
	IP        string `json:"-"`
	UserAgent string `json:"-"`
}

// LoginResponse returns the issued tokens and the resolved session.
type LoginResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int64     `json:"expires_in"`
	User         UserInfo  `json:"user"`
	Principal    Principal `json:"principal"`
	IssuedAt     time.Time `json:"issued_at"`
}

// RefreshTokenRequest exchanges a refresh token for a new access token.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
	IP           string `json:"-"`
	UserAgent    string `json:"-"`
}

// RefreshTokenResponse returns the refreshed tokens.
type RefreshTokenResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int64     `json:"expires_in"`
	Principal    Principal `json:"principal"`
	IssuedAt     time.Time `json:"issued_at"`
}

// ChangePasswordRequest payload for updating password.
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=6"`
}

// ForgotPasswordRequest initiates the reset flow.
type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ConfirmResetPasswordRequest completes the reset flow.
type ConfirmResetPasswordRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=6"`
}

// UserInfo describes the authenticated user in responses.
type UserInfo struct {
	ID        string  `json:"id"`
	Email     string  `json:"email"`
	FirstName string  `json:"first_name"`
	LastName  string  `json:"last_name"`
	Role      Role    `json:"role"`
	Class     *string `json:"class,omitempty"`
	AvatarURL *string `json:"avatar_url,omitempty"`
}

// JWTClaims is the access token payload. The principal is embedded so each
// request reuses the identity resolved at login.
type JWTClaims struct {
	UserID          string `json:"user_id"`
	Role            Role   `json:"role"`
	Email           string `json:"email"`
	AssignedClass   string `json:"assigned_class,omitempty"`
	LinkedStudentID string `json:"linked_student_id,omitempty"`
	jwt.RegisteredClaims
}

// Principal rebuilds the session principal from the claims.
func (c *JWTClaims) Principal() Principal {
	return Principal{
		UserID:          c.UserID,
		Role:            c.Role,
		AssignedClass:   c.AssignedClass,
		LinkedStudentID: c.LinkedStudentID,
	}
}
