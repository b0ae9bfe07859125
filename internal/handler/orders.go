package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/iurnickita/laundry/internal/httperr"
	"github.com/iurnickita/laundry/internal/model"
)

func (h *handler) PostOrder(w http.ResponseWriter, r *http.Request) {
	var orderJSONRequest PostOrderJSONRequest
	if err := decodeJSON(w, r, &orderJSONRequest); err != nil {
		httperr.WriteErr(r.Context(), w, err)
		return
	}

	order, err := h.service.CreateOrder(r.Context(), currentUser(r), orderJSONRequest.newOrder())
	if err != nil {
		httperr.WriteErr(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusCreated, orderJSON(order))
}

func (h *handler) GetOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.ListOrders(r.Context(), currentUser(r))
	if err != nil {
		httperr.WriteErr(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, ordersJSON(orders))
}

func (h *handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.service.GetOrder(r.Context(), currentUser(r), chi.URLParam(r, "id"))
	if err != nil {
		httperr.WriteErr(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, orderJSON(order))
}

func (h *handler) GetTracking(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	view, err := h.service.GetTracking(r.Context(), currentUser(r), orderID)
	if err != nil {
		httperr.WriteErr(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, trackingJSON(orderID, view))
}

func (h *handler) PostPay(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.InitiatePayment(r.Context(), currentUser(r), chi.URLParam(r, "id"))
	if err != nil {
		httperr.WriteErr(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, PostPayJSONResponse{
		Order:       orderJSON(session.Order),
		Token:       session.Token,
		RedirectURL: session.RedirectURL,
	})
}

func (h *handler) PostCheckPaymentStatus(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.CheckPaymentStatus(r.Context(), currentUser(r), chi.URLParam(r, "id"))
	if err != nil {
		httperr.WriteErr(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, checkPaymentJSON(result, h.service.PollInterval()))
}

func (h *handler) PostCancel(w http.ResponseWriter, r *http.Request) {
	var cancelJSONRequest PostCancelJSONRequest
	if err := decodeJSON(w, r, &cancelJSONRequest); err != nil {
		httperr.WriteErr(r.Context(), w, err)
		return
	}

	order, err := h.service.CancelOrder(r.Context(), currentUser(r), chi.URLParam(r, "id"), cancelJSONRequest.Reason)
	if err != nil {
		httperr.WriteErr(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, orderJSON(order))
}

func (h *handler) PostFeedback(w http.ResponseWriter, r *http.Request) {
	var feedbackJSONRequest PostFeedbackJSONRequest
	if err := decodeJSON(w, r, &feedbackJSONRequest); err != nil {
		httperr.WriteErr(r.Context(), w, err)
		return
	}

	order, err := h.service.SubmitFeedback(r.Context(), currentUser(r), chi.URLParam(r, "id"), model.Feedback{
		Rating:  feedbackJSONRequest.Rating,
		Comment: feedbackJSONRequest.Comment,
	})
	if err != nil {
		httperr.WriteErr(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, orderJSON(order))
}
