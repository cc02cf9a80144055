package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sibudis-api/internal/models"
	appErrors "github.com/noah-isme/sibudis-api/pkg/errors"
)

type fakeAuthSrv struct {
	loginReq    models.LoginRequest
	loginErr    error
	logoutUser  string
	logoutToken string
	changedFor  string
	forgotErr   error
	resetErr    error
	mePrincipal models.Principal
}

func (f *fakeAuthSrv) Login(_ context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	f.loginReq = req
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return &models.LoginResponse{AccessToken: "access", RefreshToken: "refresh", Principal: models.Principal{UserID: "p1", Role: models.RoleParent}}, nil
}

func (f *fakeAuthSrv) RefreshToken(context.Context, models.RefreshTokenRequest) (*models.RefreshTokenResponse, error) {
	return &models.RefreshTokenResponse{AccessToken: "access-2"}, nil
}

func (f *fakeAuthSrv) Logout(_ context.Context, token, userID, _, _ string) error {
	f.logoutToken, f.logoutUser = token, userID
	return nil
}

func (f *fakeAuthSrv) ChangePassword(_ context.Context, userID string, _ models.ChangePasswordRequest) error {
	f.changedFor = userID
	return nil
}

func (f *fakeAuthSrv) Me(_ context.Context, p models.Principal) (*models.UserInfo, error) {
	f.mePrincipal = p
	return &models.UserInfo{ID: p.UserID, Role: p.Role}, nil
}

func (f *fakeAuthSrv) ForgotPassword(context.Context, models.ForgotPasswordRequest) error {
	return f.forgotErr
}

func (f *fakeAuthSrv) ResetPassword(context.Context, models.ConfirmResetPasswordRequest) error {
	return f.resetErr
}

func TestAuthHandlerLogin(t *testing.T) {
	srv := &fakeAuthSrv{}
	h := NewAuthHandler(srv)

	c, rec := newContext(http.MethodPost, "/auth/login", map[string]string{"nisn": "0012345678", "password": "rahasia"}, nil)
	c.Request.Header.Set("User-Agent", "jest")
	h.Login(c)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0012345678", srv.loginReq.NISN)
	assert.Equal(t, "jest", srv.loginReq.UserAgent)
	var res models.LoginResponse
	decodeData(t, rec, &res)
	assert.Equal(t, models.RoleParent, res.Principal.Role)

	srv.loginErr = appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid credentials")
	c, rec = newContext(http.MethodPost, "/auth/login", map[string]string{"email": "a@b.id", "password": "x"}, nil)
	h.Login(c)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	c, rec = newContext(http.MethodPost, "/auth/login", "{bad json", nil)
	h.Login(c)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeEnvelope(t, rec).Error.Code)
}

func TestAuthHandlerSessionEndpoints(t *testing.T) {
	srv := &fakeAuthSrv{}
	h := NewAuthHandler(srv)

	c, rec := newContext(http.MethodPost, "/auth/logout", map[string]string{"refresh_token": "r1"}, teacherClaims)
	h.Logout(c)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "t1", srv.logoutUser)
	assert.Equal(t, "r1", srv.logoutToken)

	c, rec = newContext(http.MethodPost, "/auth/logout", map[string]string{}, teacherClaims)
	h.Logout(c)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	c, rec = newContext(http.MethodPost, "/auth/logout", map[string]string{"refresh_token": "r1"}, nil)
	h.Logout(c)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	c, rec = newContext(http.MethodPost, "/auth/change-password", map[string]string{"old_password": "a", "new_password": "bbbbbb"}, parentClaims)
	h.ChangePassword(c)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "p1", srv.changedFor)

	c, rec = newContext(http.MethodGet, "/auth/me", nil, parentClaims)
	h.Me(c)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "s1", srv.mePrincipal.LinkedStudentID)
}

func TestAuthHandlerPasswordReset(t *testing.T) {
	srv := &fakeAuthSrv{}
	h := NewAuthHandler(srv)

	c, rec := newContext(http.MethodPost, "/auth/forgot-password", map[string]string{"email": "guru@sekolah.id"}, nil)
	h.ForgotPassword(c)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	srv.resetErr = appErrors.ErrInvalidResetToken
	c, rec = newContext(http.MethodPost, "/auth/reset-password", map[string]string{"token": "x", "new_password": "abcdef"}, nil)
	h.ResetPassword(c)
	assert.Equal(t, appErrors.ErrInvalidResetToken.Status, rec.Code)
}
