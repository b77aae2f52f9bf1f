package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/briangreenhill/bperks/internal/auth"
	"github.com/briangreenhill/bperks/internal/entities"
)

type users map[string]entities.User

func (u users) GetUser(_ context.Context, id string) (entities.User, error) {
	if x, ok := u[id]; ok {
		return x, nil
	}
	return entities.User{}, errors.New("not found")
}

func echoUser(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte(UserID(r.Context())))
}

func TestBearerToken(t *testing.T) {
	tokens := auth.Tokens{Secret: []byte("secret")}
	h := BearerToken(tokens)(http.HandlerFunc(echoUser))

	cases := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{"no header passes through", "", http.StatusOK, ""},
		{"valid token", "Bearer " + tokens.Issue("u1", time.Hour), http.StatusOK, "u1"},
		{"lowercase scheme", "bearer " + tokens.Issue("u2", time.Hour), http.StatusOK, "u2"},
		{"expired", "Bearer " + tokens.Sign("u1", time.Now().Add(-time.Minute)), http.StatusUnauthorized, ""},
		{"garbage", "Bearer nope", http.StatusUnauthorized, ""},
		{"basic auth", "Basic dTpw", http.StatusUnauthorized, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.status, rec.Code)
			if tc.status == http.StatusOK {
				assert.Equal(t, tc.body, rec.Body.String())
			} else {
				assert.Contains(t, rec.Body.String(), `"error":`)
			}
		})
	}
}

func TestRequireAuth(t *testing.T) {
	h := RequireAuth(http.HandlerFunc(echoUser))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithUserID(req.Context(), "u1"))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1", rec.Body.String())
}

func TestRequireAdmin(t *testing.T) {
	lookup := users{
		"admin": {ID: "admin", Role: entities.RoleAdmin},
		"res":   {ID: "res", Role: entities.RoleResident},
	}
	h := RequireAdmin(lookup)(http.HandlerFunc(echoUser))

	for id, want := range map[string]int{"admin": http.StatusOK, "res": http.StatusForbidden, "ghost": http.StatusUnauthorized} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(WithUserID(req.Context(), id))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code, id)
	}
}
