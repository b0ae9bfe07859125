// Package reconcile decides and applies order state changes driven by the payment gateway.
package reconcile

import (
	"strings"

	"github.com/iurnickita/laundry/internal/model"
)

// Gateway transaction statuses.
const (
	TransactionCapture    = "capture"
	TransactionSettlement = "settlement"
	TransactionPending    = "pending"
	TransactionDeny       = "deny"
	TransactionExpire     = "expire"
	TransactionCancel     = "cancel"

	FraudChallenge = "challenge"
	FraudAccept    = "accept"
)

// Mapping is the canonical outcome of a gateway signal.
// Empty fields mean the stored value is kept.
type Mapping struct {
	Status        model.OrderStatus
	PaymentStatus model.PaymentStatus
	Note          string
}

// Map converts a gateway transaction status into the order and payment status it implies.
func Map(transactionStatus, fraudStatus string) Mapping {
	status := strings.ToLower(strings.TrimSpace(transactionStatus))
	fraud := strings.ToLower(strings.TrimSpace(fraudStatus))

	switch status {
	case TransactionCapture:
		if fraud == FraudChallenge {
			return Mapping{PaymentStatus: model.PaymentStatusPending, Note: "payment under fraud review"}
		}
		return Mapping{
			Status:        model.OrderStatusConfirmed,
			PaymentStatus: model.PaymentStatusPaid,
			Note:          "payment successful, order confirmed",
		}
	case TransactionSettlement:
		return Mapping{
			Status:        model.OrderStatusConfirmed,
			PaymentStatus: model.PaymentStatusPaid,
			Note:          "payment settled, order confirmed",
		}
	case TransactionPending:
		return Mapping{PaymentStatus: model.PaymentStatusPending, Note: "payment pending"}
	case TransactionDeny:
		return failed("payment denied")
	case TransactionExpire:
		return failed("payment expired")
	case TransactionCancel:
		return failed("payment cancelled")
	}
	return Mapping{Note: "unrecognized status: " + transactionStatus}
}

func failed(note string) Mapping {
	return Mapping{
		Status:        model.OrderStatusCancelled,
		PaymentStatus: model.PaymentStatusFailed,
		Note:          note,
	}
}

// MapManual converts an operator supplied payment label.
func MapManual(label string) Mapping {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "paid", TransactionSettlement, TransactionCapture:
		return Mapping{
			Status:        model.OrderStatusConfirmed,
			PaymentStatus: model.PaymentStatusPaid,
			Note:          "payment marked as paid by operator",
		}
	case "failed", TransactionCancel, TransactionDeny:
		return Mapping{
			Status:        model.OrderStatusCancelled,
			PaymentStatus: model.PaymentStatusFailed,
			Note:          "payment marked as failed by operator",
		}
	}
	return Mapping{
		Status:        model.OrderStatusPending,
		PaymentStatus: model.PaymentStatusPending,
		Note:          "payment marked as pending by operator",
	}
}

// Resolve returns the state m produces when applied on top of current.
func (m Mapping) Resolve(current model.OrderState) model.OrderState {
	next := current
	if m.Status != "" {
		next.Status = m.Status
	}
	if m.PaymentStatus != "" {
		next.PaymentStatus = m.PaymentStatus
	}
	if next.PaymentStatus == model.PaymentStatusPaid && next.Status == model.OrderStatusPending {
		next.Status = model.OrderStatusConfirmed
	}
	return next
}
