package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Payment — попытка оплаты заказа через внешний шлюз.
type Payment struct {
	ID              string
	OrderID         string
	UserID          string
	Reference       string
	Amount          decimal.Decimal
	RefundedAmount  decimal.Decimal
	Status          PaymentStatus
	Metadata        map[string]string
	GatewayResponse string
	ProcessedAt     time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Validate проверяет корректность полей платежа и возвращает ошибки, если они есть.
func (p *Payment) Validate() []error {
	var errs []error

	if p.Reference == "" {
		errs = append(errs, ErrReferenceRequired)
	}
	if p.Amount.IsNegative() {
		errs = append(errs, ErrAmountNegative)
	}

	return errs
}

// Clone копирует платёж вместе с метаданными.
func (p Payment) Clone() Payment {
	if p.Metadata != nil {
		md := make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			md[k] = v
		}
		p.Metadata = md
	}
	return p
}

// SessionRequest — параметры создания платёжной сессии.
type SessionRequest struct {
	// AmountMinor — сумма в минимальных единицах валюты.
	AmountMinor int64
	Email       string
	OrderID     string
	CallbackURL string
	Metadata    map[string]string
}

// PaymentSession — ответ шлюза на создание сессии.
type PaymentSession struct {
	Reference   string
	RedirectURL string
	AccessCode  string
	Raw         json.RawMessage
}

// VerificationStatus — итог проверки транзакции у шлюза.
type VerificationStatus string

const (
	VerificationSuccess VerificationStatus = "success"
	VerificationFailed  VerificationStatus = "failed"
	// VerificationPending — покупатель ещё не завершил оплату; проверку можно повторить.
	VerificationPending VerificationStatus = "pending"
)

// Verification — результат verify(reference).
type Verification struct {
	Reference       string
	Status          VerificationStatus
	AmountMinor     int64
	GatewayResponse string
	Metadata        map[string]string
	Raw             json.RawMessage
}

// RefundRequest — запрос на возврат средств.
type RefundRequest struct {
	Reference   string
	AmountMinor int64
}

// RefundResult — ответ шлюза на возврат.
type RefundResult struct {
	Reference string
	Status    string
	Raw       json.RawMessage
}
