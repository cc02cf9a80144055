package handler

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sibudis-api/internal/models"
)

func TestUserHandlerList(t *testing.T) {
	h := NewUserHandler(fakeUserSrv{})

	c, rec := newContext(http.MethodGet, "/users?role=teacher&active=true&page=2", nil, adminClaims)
	h.List(c)
	require.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	require.NotNil(t, env.Pagination)
	assert.Equal(t, 20, env.Pagination.PageSize)

	c, rec = newContext(http.MethodGet, "/users?role=principal", nil, adminClaims)
	h.List(c)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUserHandlerWrites(t *testing.T) {
	h := NewUserHandler(fakeUserSrv{})

	c, rec := newContext(http.MethodPost, "/users", map[string]string{"email": "wali@sekolah.id", "first_name": "Wali", "role": "parent", "nisn": "0012345678", "password": "secret1"}, adminClaims)
	h.Create(c)
	assert.Equal(t, http.StatusCreated, rec.Code)

	c, rec = newContext(http.MethodPut, "/users/u1/password", map[string]string{"password": "secret2"}, adminClaims)
	c.AddParam("id", "u1")
	h.SetPassword(c)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	c, rec = newContext(http.MethodDelete, "/users/u1", nil, adminClaims)
	c.AddParam("id", "u1")
	h.Delete(c)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	c, rec = newContext(http.MethodPut, "/profile", "not-json", parentClaims)
	h.UpdateProfile(c)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUserHandlerRegisterParent(t *testing.T) {
	h := NewUserHandler(fakeUserSrv{})

	c, rec := newContext(http.MethodPost, "/auth/register-parent", map[string]string{"email": "ortu@example.com", "first_name": "Ortu", "nisn": "0012345678", "password": "secret1"}, nil)
	h.RegisterParent(c)
	require.Equal(t, http.StatusCreated, rec.Code)
	var user models.User
	decodeData(t, rec, &user)
	assert.Equal(t, "parent", user.Role)

	c, rec = newContext(http.MethodPost, "/auth/register-parent", map[string]string{"email": "ortu@example.com", "first_name": "Ortu", "nisn": "0099999999", "password": "secret1"}, nil)
	h.RegisterParent(c)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
