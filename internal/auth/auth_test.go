package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iurnickita/laundry/internal/auth/config"
	"github.com/iurnickita/laundry/internal/token"
)

func TestMiddleware(t *testing.T) {
	a := NewAuth(config.Config{TokenSecret: "secret"}, zap.NewNop())
	var got User
	h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = UserFromContext(r.Context())
	}))

	signed, err := token.New("secret", "cust-1", token.RoleCustomer, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		setup  func(r *http.Request)
		status int
	}{
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+signed) }, http.StatusOK},
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: cookieUserToken, Value: signed}) }, http.StatusOK},
		{"missing", func(r *http.Request) {}, http.StatusUnauthorized},
		{"garbage", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got = User{}
			req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
			tt.setup(req)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			require.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusOK {
				require.Equal(t, User{Code: "cust-1", Role: token.RoleCustomer}, got)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	a := NewAuth(config.Config{TokenSecret: "secret"}, zap.NewNop())
	h := a.Middleware(a.RequireRole(token.RoleOperator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	for role, status := range map[token.Role]int{
		token.RoleOperator: http.StatusNoContent,
		token.RoleCustomer: http.StatusForbidden,
	} {
		signed, err := token.New("secret", "u", role, time.Hour)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, "/api/payment/manual-update", nil)
		req.Header.Set("Authorization", "Bearer "+signed)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, status, rec.Code, role)
	}
}

func TestIssue(t *testing.T) {
	a := NewAuth(config.Config{TokenSecret: "secret", TokenTTL: time.Hour}, zap.NewNop())

	signed, err := a.Issue(User{Code: "op-1", Role: token.RoleOperator})
	require.NoError(t, err)
	claims, err := token.Parse("secret", signed)
	require.NoError(t, err)
	require.Equal(t, "op-1", claims.Subject)
	require.Equal(t, token.RoleOperator, claims.Role)
	require.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, time.Minute)

	signed, err = a.Issue(User{Code: "cust-1"})
	require.NoError(t, err)
	claims, err = token.Parse("secret", signed)
	require.NoError(t, err)
	require.Equal(t, token.RoleCustomer, claims.Role)

	_, err = a.Issue(User{})
	require.Error(t, err)
}
