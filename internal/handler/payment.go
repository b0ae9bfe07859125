package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/iurnickita/laundry/internal/httperr"
	"github.com/iurnickita/laundry/internal/model"
	"github.com/iurnickita/laundry/internal/reconcile"
)

const headerSignature = "X-Signature"

func (h *handler) PostWebhook(w http.ResponseWriter, r *http.Request) {
	var webhookJSONRequest PostWebhookJSONRequest
	if err := decodeJSON(w, r, &webhookJSONRequest); err != nil {
		httperr.WriteErr(r.Context(), w, err)
		return
	}

	// подпись в теле или в заголовке
	signature := webhookJSONRequest.SignatureKey
	if signature == "" {
		signature = r.Header.Get(headerSignature)
	}

	applied, err := h.service.HandleWebhook(r.Context(), reconcile.Notification{
		OrderID:           webhookJSONRequest.OrderID,
		TransactionStatus: webhookJSONRequest.TransactionStatus,
		FraudStatus:       webhookJSONRequest.FraudStatus,
		PaymentType:       webhookJSONRequest.PaymentType,
		TransactionID:     webhookJSONRequest.TransactionID,
		GrossAmount:       webhookJSONRequest.GrossAmount,
		StatusCode:        webhookJSONRequest.StatusCode,
		SignatureKey:      signature,
	})
	if err != nil {
		h.zaplog.Info("webhook rejected",
			zap.String("gateway_order_id", webhookJSONRequest.OrderID),
			zap.Error(err))
		httperr.WriteErr(r.Context(), w, err)
		return
	}
	// no-op и конфликт тоже подтверждаются, иначе шлюз будет повторять
	writeJSON(r.Context(), w, http.StatusOK, webhookJSON(applied))
}

func (h *handler) PostManualUpdate(w http.ResponseWriter, r *http.Request) {
	var manualJSONRequest PostManualUpdateJSONRequest
	if err := decodeJSON(w, r, &manualJSONRequest); err != nil {
		httperr.WriteErr(r.Context(), w, err)
		return
	}

	result, err := h.service.ManualPaymentUpdate(r.Context(), manualJSONRequest.OrderIdentifier, manualJSONRequest.TargetStatus)
	if err != nil {
		httperr.WriteErr(r.Context(), w, err)
		return
	}
	h.zaplog.Info("manual payment update",
		zap.String("operator", currentUser(r)),
		zap.String("identifier", manualJSONRequest.OrderIdentifier),
		zap.String("target", manualJSONRequest.TargetStatus))
	writeJSON(r.Context(), w, http.StatusOK, PostManualUpdateJSONResponse{
		Orders:  ordersJSON(result.Orders),
		Matched: result.Matched,
		Updated: result.Updated,
		Ignored: result.Ignored,
	})
}

func (h *handler) GetSearchOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.SearchOrders(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		httperr.WriteErr(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, ordersJSON(orders))
}

func (h *handler) PostOrderStatus(w http.ResponseWriter, r *http.Request) {
	var statusJSONRequest PostOrderStatusJSONRequest
	if err := decodeJSON(w, r, &statusJSONRequest); err != nil {
		httperr.WriteErr(r.Context(), w, err)
		return
	}

	order, err := h.service.TransitionStatus(r.Context(), chi.URLParam(r, "id"),
		model.OrderStatus(statusJSONRequest.Status), statusJSONRequest.Note)
	if err != nil {
		httperr.WriteErr(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, orderJSON(order))
}
