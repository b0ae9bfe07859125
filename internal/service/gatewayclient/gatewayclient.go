package gatewayclient

import (
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/iurnickita/laundry/internal/model"
	"github.com/iurnickita/laundry/internal/service/config"
)

// JSON ответ шлюза о статусе транзакции
type StatusAnswer struct {
	StatusCode        string `json:"status_code"`
	StatusMessage     string `json:"status_message"`
	OrderID           string `json:"order_id"`
	TransactionID     string `json:"transaction_id"`
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status"`
	PaymentType       string `json:"payment_type"`
	GrossAmount       string `json:"gross_amount"`
	SignatureKey      string `json:"signature_key"`

	Raw json.RawMessage `json:"-"`
}

// Signal converts the answer into the reconciliation input.
func (a StatusAnswer) Signal() model.TransactionSignal {
	return model.TransactionSignal{
		TransactionStatus:    a.TransactionStatus,
		FraudStatus:          a.FraudStatus,
		PaymentType:          a.PaymentType,
		GatewayTransactionID: a.TransactionID,
	}
}

type SnapRequest struct {
	OrderID     string
	GrossAmount decimal.Decimal
	Customer    model.Customer
}

// JSON ответ Snap
type SnapAnswer struct {
	Token       string `json:"token"`
	RedirectURL string `json:"redirect_url"`
}

var ErrTransactionNotFound = errors.New("transaction not found at gateway")

type GatewayClient interface {
	TransactionStatus(ctx context.Context, gatewayOrderID string) (StatusAnswer, error)
	CreateTransaction(ctx context.Context, req SnapRequest) (SnapAnswer, error)
}

type gatewayClient struct {
	api  *resty.Client
	snap *resty.Client
}

func NewGatewayClient(cfg config.GatewayConfig) GatewayClient {
	newClient := func(baseURL string) *resty.Client {
		return resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(cfg.Timeout).
			SetBasicAuth(cfg.ServerKey, "").
			SetHeader("Accept", "application/json").
			SetHeader("Content-Type", "application/json")
	}
	return &gatewayClient{
		api:  newClient(cfg.BaseURL),
		snap: newClient(cfg.SnapURL),
	}
}

func (client *gatewayClient) TransactionStatus(ctx context.Context, gatewayOrderID string) (StatusAnswer, error) {
	if strings.TrimSpace(gatewayOrderID) == "" {
		return StatusAnswer{}, fmt.Errorf("%w: gateway order id is empty", model.ErrValidation)
	}

	setreq := client.api.R().SetContext(ctx)
	setreq.Method = http.MethodGet
	setreq.URL = "/v2/" + url.PathEscape(gatewayOrderID) + "/status"
	setresp, err := setreq.Send()
	if err != nil {
		return StatusAnswer{}, fmt.Errorf("%w: %v", model.ErrUpstream, err)
	}

	switch setresp.StatusCode() {
	case http.StatusOK:
	case http.StatusNotFound:
		return StatusAnswer{}, ErrTransactionNotFound
	default:
		return StatusAnswer{}, fmt.Errorf("%w: status request returned %d", model.ErrUpstream, setresp.StatusCode())
	}

	var answer StatusAnswer
	if err := json.Unmarshal(setresp.Body(), &answer); err != nil {
		return StatusAnswer{}, fmt.Errorf("%w: malformed status response: %v", model.ErrUpstream, err)
	}
	// шлюз отвечает 200 и кладет код ошибки в тело
	if answer.StatusCode == "404" {
		return StatusAnswer{}, ErrTransactionNotFound
	}
	if answer.TransactionStatus == "" {
		return StatusAnswer{}, fmt.Errorf("%w: status response without transaction_status (code %s)", model.ErrUpstream, answer.StatusCode)
	}
	answer.Raw = json.RawMessage(setresp.Body())
	return answer, nil
}

type snapTransactionDetails struct {
	OrderID     string `json:"order_id"`
	GrossAmount int64  `json:"gross_amount"`
}

type snapCustomerDetails struct {
	FirstName string `json:"first_name,omitempty"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

type snapRequestJSON struct {
	TransactionDetails snapTransactionDetails `json:"transaction_details"`
	CustomerDetails    snapCustomerDetails    `json:"customer_details"`
}

type snapErrorJSON struct {
	ErrorMessages []string `json:"error_messages"`
}

func (client *gatewayClient) CreateTransaction(ctx context.Context, req SnapRequest) (SnapAnswer, error) {
	body := snapRequestJSON{
		TransactionDetails: snapTransactionDetails{
			OrderID:     req.OrderID,
			GrossAmount: req.GrossAmount.Round(0).IntPart(),
		},
		CustomerDetails: snapCustomerDetails{
			FirstName: req.Customer.Name,
			Email:     req.Customer.Email,
			Phone:     req.Customer.Phone,
		},
	}

	setresp, err := client.snap.R().
		SetContext(ctx).
		SetBody(body).
		Post("/snap/v1/transactions")
	if err != nil {
		return SnapAnswer{}, fmt.Errorf("%w: %v", model.ErrUpstream, err)
	}

	switch setresp.StatusCode() {
	case http.StatusOK, http.StatusCreated:
		var answer SnapAnswer
		if err := json.Unmarshal(setresp.Body(), &answer); err != nil || answer.Token == "" {
			return SnapAnswer{}, fmt.Errorf("%w: malformed snap response", model.ErrUpstream)
		}
		return answer, nil
	default:
		var snapErr snapErrorJSON
		_ = json.Unmarshal(setresp.Body(), &snapErr)
		return SnapAnswer{}, fmt.Errorf("%w: snap request returned %d: %s",
			model.ErrUpstream, setresp.StatusCode(), strings.Join(snapErr.ErrorMessages, "; "))
	}
}

// Signature is hex(SHA-512(order_id + status_code + gross_amount + server_key)).
func Signature(orderID, statusCode, grossAmount, serverKey string) string {
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + serverKey))
	return hex.EncodeToString(sum[:])
}

// VerifySignature compares in constant time.
func VerifySignature(signature, orderID, statusCode, grossAmount, serverKey string) bool {
	expected := Signature(orderID, statusCode, grossAmount, serverKey)
	given := strings.ToLower(strings.TrimSpace(signature))
	return subtle.ConstantTimeCompare([]byte(expected), []byte(given)) == 1
}
