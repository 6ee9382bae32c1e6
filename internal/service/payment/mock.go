// Package payment содержит адаптеры платёжного шлюза и сервис подтверждения и возврата платежей.
package payment

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/vendormarket/internal/domain"
)

// MockGateway — конфигурируемая заглушка PaymentGateway для dev-режима и тестов.
type MockGateway struct {
	mu sync.Mutex

	SessionErr   error
	VerifyStatus domain.VerificationStatus
	VerifyErr    error
	RefundErr    error

	SessionCalls int
	VerifyCalls  int
	RefundCalls  int

	sessions map[string]domain.SessionRequest
}

// NewMockGateway возвращает mock с успешным сценарием по умолчанию.
func NewMockGateway() *MockGateway {
	return &MockGateway{
		VerifyStatus: domain.VerificationSuccess,
		sessions:     make(map[string]domain.SessionRequest),
	}
}

// CreateSession выдаёт случайный reference и запоминает запрос для Verify.
func (m *MockGateway) CreateSession(ctx context.Context, req domain.SessionRequest) (domain.PaymentSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SessionCalls++
	if err := ctx.Err(); err != nil {
		return domain.PaymentSession{}, err
	}
	if m.SessionErr != nil {
		return domain.PaymentSession{}, m.SessionErr
	}

	ref := "mock_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	m.sessions[ref] = req
	raw, _ := json.Marshal(map[string]any{"reference": ref, "amount": req.AmountMinor})
	return domain.PaymentSession{
		Reference:   ref,
		RedirectURL: "https://checkout.mock.local/" + ref,
		AccessCode:  ref,
		Raw:         raw,
	}, nil
}

// Verify возвращает настроенный статус и сумму исходной сессии.
func (m *MockGateway) Verify(ctx context.Context, reference string) (domain.Verification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.VerifyCalls++
	if err := ctx.Err(); err != nil {
		return domain.Verification{}, err
	}
	if m.VerifyErr != nil {
		return domain.Verification{}, m.VerifyErr
	}

	req, ok := m.sessions[reference]
	if !ok {
		return domain.Verification{}, domain.ErrPaymentNotFound
	}
	return domain.Verification{
		Reference:       reference,
		Status:          m.VerifyStatus,
		AmountMinor:     req.AmountMinor,
		GatewayResponse: string(m.VerifyStatus),
		Metadata:        req.Metadata,
	}, nil
}

// Refund возвращает настроенный результат и считает вызовы.
func (m *MockGateway) Refund(ctx context.Context, req domain.RefundRequest) (domain.RefundResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.RefundCalls++
	if err := ctx.Err(); err != nil {
		return domain.RefundResult{}, err
	}
	if m.RefundErr != nil {
		return domain.RefundResult{}, m.RefundErr
	}
	return domain.RefundResult{Reference: req.Reference, Status: "processed"}, nil
}

var _ domain.PaymentGateway = (*MockGateway)(nil)
