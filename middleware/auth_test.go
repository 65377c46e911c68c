package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func protectedRouter(secret []byte) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/admin/ping", AuthRequired(secret), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"operator": c.GetString(OperatorKey)})
	})
	return r
}

func TestAuthRequired(t *testing.T) {
	secret := []byte("test-secret")
	r := protectedRouter(secret)

	valid, err := IssueOperatorToken(secret, "admin", time.Hour, time.Now())
	require.NoError(t, err)
	expired, err := IssueOperatorToken(secret, "admin", time.Minute, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	foreign, err := IssueOperatorToken([]byte("other"), "admin", time.Hour, time.Now())
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"valid token", "Bearer " + valid, http.StatusOK},
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + valid, http.StatusUnauthorized},
		{"expired", "Bearer " + expired, http.StatusUnauthorized},
		{"wrong secret", "Bearer " + foreign, http.StatusUnauthorized},
		{"garbage", "Bearer not-a-jwt", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/ping", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				assert.JSONEq(t, `{"operator":"admin"}`, w.Body.String())
			}
		})
	}
}

func TestParseOperatorToken_Subject(t *testing.T) {
	secret := []byte("s")
	token, err := IssueOperatorToken(secret, "ops-lead", time.Hour, time.Now())
	require.NoError(t, err)

	claims, err := ParseOperatorToken(secret, token)
	require.NoError(t, err)
	assert.Equal(t, "ops-lead", claims.Subject)
	assert.Equal(t, "operator", claims.Role)
}
