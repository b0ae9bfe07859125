package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/iurnickita/laundry/internal/auth/config"
	"github.com/iurnickita/laundry/internal/httperr"
	"github.com/iurnickita/laundry/internal/model"
	"github.com/iurnickita/laundry/internal/token"
)

type Auth interface {
	Middleware(h http.Handler) http.Handler
	RequireRole(role token.Role) func(http.Handler) http.Handler
	// Issue signs a token for user valid for the configured TTL.
	Issue(user User) (string, error)
}

const cookieUserToken = "laundryToken"

type ctxKey struct{}

type User struct {
	Code string
	Role token.Role
}

// UserFromContext returns the authenticated user set by Middleware.
func UserFromContext(ctx context.Context) (User, bool) {
	user, ok := ctx.Value(ctxKey{}).(User)
	return user, ok
}

// WithUser stores user in ctx.
func WithUser(ctx context.Context, user User) context.Context {
	return context.WithValue(ctx, ctxKey{}, user)
}

type auth struct {
	cfg    config.Config
	zaplog *zap.Logger
}

func NewAuth(cfg config.Config, zaplog *zap.Logger) Auth {
	return &auth{cfg: cfg, zaplog: zaplog.Named("auth")}
}

func (a *auth) Middleware(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// получение id пользователя
		user, err := a.getUser(r)
		if err != nil {
			a.zaplog.Debug("request rejected", zap.String("path", r.URL.Path), zap.Error(err))
			httperr.WriteErr(r.Context(), w, fmt.Errorf("%w: %v", model.ErrAuthentication, err))
			return
		}

		// передаём управление хендлеру
		h.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

func (a *auth) RequireRole(role token.Role) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := UserFromContext(r.Context())
			if !ok || user.Role != role {
				httperr.WriteErr(r.Context(), w, fmt.Errorf("%w: %s role required", model.ErrForbidden, role))
				return
			}
			h.ServeHTTP(w, r)
		})
	}
}

func (a *auth) Issue(user User) (string, error) {
	if user.Code == "" {
		return "", fmt.Errorf("%w: user code is required", model.ErrValidation)
	}
	if user.Role == "" {
		user.Role = token.RoleCustomer
	}
	return token.New(a.cfg.TokenSecret, user.Code, user.Role, a.cfg.TokenTTL)
}

var errNoToken = errors.New("no token")

func (a *auth) getUser(r *http.Request) (User, error) {
	// заголовок Authorization, затем куки пользователя
	var raw string
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		raw = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	} else if tokenCookie, err := r.Cookie(cookieUserToken); err == nil {
		raw = tokenCookie.Value
	}
	if raw == "" {
		return User{}, errNoToken
	}
	claims, err := token.Parse(a.cfg.TokenSecret, raw)
	if err != nil {
		return User{}, err
	}
	return User{Code: claims.Subject, Role: claims.Role}, nil
}
