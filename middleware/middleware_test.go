package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/neurocheck/authgate"
	"github.com/neurocheck/authgate/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T) *jwt.Manager {
	t.Helper()
	m, err := jwt.NewManager(jwt.Config{
		SessionTTL:    time.Hour,
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    []byte("0123456789abcdef0123456789abcdef"),
	})
	require.NoError(t, err)
	return m
}

func issue(t *testing.T, m *jwt.Manager, role authgate.Role) string {
	t.Helper()
	token, err := m.IssueSession(context.Background(), authgate.AccountProfile{ID: "acc-1", Email: "a@clinic.test", Role: role})
	require.NoError(t, err)
	return token
}

func TestGuard(t *testing.T) {
	m := newManager(t)
	handler := Guard(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(claims.Subject))
	}))

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"garbage", "Bearer abc.def.ghi", http.StatusUnauthorized},
		{"valid", "Bearer " + issue(t, m, authgate.RoleStaff), http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tc.status, rec.Code)
			if tc.status == http.StatusOK {
				assert.Equal(t, "acc-1", rec.Body.String())
			}
		})
	}
}

func TestGuardNilParser(t *testing.T) {
	handler := Guard(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireSessionAndRole(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := newManager(t)

	r := gin.New()
	admin := r.Group("/admin", RequireSession(m), RequireRole(authgate.RoleAdmin, authgate.RoleOrganizationAdmin))
	admin.GET("/ping", func(c *gin.Context) {
		claims, ok := ClaimsFromGin(c)
		require.True(t, ok)
		fromCtx, ok := ClaimsFromContext(c.Request.Context())
		require.True(t, ok)
		assert.Equal(t, claims.Subject, fromCtx.Subject)
		c.String(http.StatusOK, "pong")
	})

	do := func(header string) int {
		req := httptest.NewRequest(http.MethodGet, "/admin/ping", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusUnauthorized, do(""))
	assert.Equal(t, http.StatusForbidden, do("Bearer "+issue(t, m, authgate.RoleDoctor)))
	assert.Equal(t, http.StatusOK, do("Bearer "+issue(t, m, authgate.RoleAdmin)))
	assert.Equal(t, http.StatusOK, do("Bearer "+issue(t, m, authgate.RoleOrganizationAdmin)))
}
