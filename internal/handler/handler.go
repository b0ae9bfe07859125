package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/iurnickita/laundry/internal/auth"
	"github.com/iurnickita/laundry/internal/handler/config"
	"github.com/iurnickita/laundry/internal/httperr"
	"github.com/iurnickita/laundry/internal/logger"
	"github.com/iurnickita/laundry/internal/model"
	"github.com/iurnickita/laundry/internal/service"
	"github.com/iurnickita/laundry/internal/token"
)

const (
	maxBodyBytes          = 1 << 20
	defaultRequestTimeout = 30 * time.Second
	webhookPath           = "/api/webhook"
)

// Serve runs the HTTP server until ctx is cancelled, then shuts it down gracefully.
func Serve(ctx context.Context, cfg config.Config, auth auth.Auth, service service.Service, zaplog *zap.Logger) error {
	h := newHandler(cfg, auth, service, zaplog)
	router := h.newRouter()

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		zaplog.Info("server started", zap.String("addr", cfg.ServerAddr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	zaplog.Info("shutting down server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

type handler struct {
	cfg     config.Config
	auth    auth.Auth
	service service.Service
	zaplog  *zap.Logger
}

func newHandler(cfg config.Config, auth auth.Auth, service service.Service, zaplog *zap.Logger) *handler {
	return &handler{
		cfg:     cfg,
		auth:    auth,
		service: service,
		zaplog:  zaplog.Named("handler"),
	}
}

func (h *handler) newRouter() http.Handler {
	timeout := h.cfg.WriteTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5, "application/json"))
	// тела запросов вебхука содержат подпись, не логируем
	router.Use(logger.RequestLogMdlw(h.zaplog, webhookPath))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(timeout))

	router.Get("/healthz", h.GetHealth)

	router.Route("/api", func(r chi.Router) {
		r.Post("/webhook", h.PostWebhook)

		r.Group(func(r chi.Router) {
			r.Use(h.auth.Middleware)

			r.Route("/orders", func(r chi.Router) {
				r.Post("/", h.PostOrder)
				r.Get("/", h.GetOrders)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.GetOrder)
					r.Get("/tracking", h.GetTracking)
					r.Post("/pay", h.PostPay)
					r.Post("/check-payment-status", h.PostCheckPaymentStatus)
					r.Post("/cancel", h.PostCancel)
					r.Post("/feedback", h.PostFeedback)
				})
			})

			r.Group(func(r chi.Router) {
				r.Use(h.auth.RequireRole(token.RoleOperator))
				r.Post("/payment/manual-update", h.PostManualUpdate)
				r.Get("/admin/orders/search", h.GetSearchOrders)
				r.Post("/admin/orders/{id}/status", h.PostOrderStatus)
			})
		})
	})

	return router
}

func (h *handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Ping(r.Context()); err != nil {
		h.zaplog.Error("store ping failed", zap.Error(err))
		httperr.Write(r.Context(), w, httperr.NewError("unavailable", "store unavailable", http.StatusServiceUnavailable))
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeJSON reads a bounded JSON body into v. An empty body leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrValidation, err)
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: malformed JSON body", model.ErrValidation)
	}
	return nil
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	responseJSON, err := json.Marshal(v)
	if err != nil {
		httperr.WriteErr(ctx, w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(responseJSON)
}

// currentUser returns the caller; Middleware guarantees it is set on authenticated routes.
func currentUser(r *http.Request) string {
	user, _ := auth.UserFromContext(r.Context())
	return user.Code
}
