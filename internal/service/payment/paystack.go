package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"

	"github.com/vladislavdragonenkov/vendormarket/internal/domain"
)

const (
	// DefaultPaystackBaseURL — адрес публичного API Paystack.
	DefaultPaystackBaseURL = "https://api.paystack.co"

	defaultPaystackTimeout  = 15 * time.Second
	defaultBreakerFailures  = 5
	defaultBreakerOpenDelay = 30 * time.Second
	maxResponseBytes        = 1 << 20
)

// PaystackConfig — параметры клиента Paystack.
type PaystackConfig struct {
	SecretKey string
	BaseURL   string
	// Timeout ограничивает один HTTP-вызов.
	Timeout time.Duration
	// BreakerFailures — число подряд неудачных вызовов до размыкания.
	BreakerFailures uint32
	// BreakerOpenDelay — сколько breaker остаётся разомкнутым.
	BreakerOpenDelay time.Duration
}

// PaystackOption настраивает клиент.
type PaystackOption func(*PaystackClient)

// WithHTTPClient подменяет HTTP-клиент.
func WithHTTPClient(c *http.Client) PaystackOption {
	return func(p *PaystackClient) {
		if c != nil {
			p.http = c
		}
	}
}

// WithPaystackLogger задаёт логгер клиента.
func WithPaystackLogger(logger *log.Entry) PaystackOption {
	return func(p *PaystackClient) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// PaystackClient реализует PaymentGateway поверх REST API Paystack.
type PaystackClient struct {
	baseURL string
	secret  string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	logger  *log.Entry
}

// APIError — ответ Paystack с неуспешным статусом.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("paystack: status %d: %s", e.StatusCode, e.Message)
}

// Temporary сообщает, что ошибку имеет смысл повторить.
func (e *APIError) Temporary() bool {
	return e.StatusCode >= http.StatusInternalServerError || e.StatusCode == http.StatusTooManyRequests
}

// NewPaystackClient создаёт клиент; пустой SecretKey недопустим.
func NewPaystackClient(cfg PaystackConfig, opts ...PaystackOption) (*PaystackClient, error) {
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, errors.New("paystack secret key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultPaystackBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultPaystackTimeout
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = defaultBreakerFailures
	}
	if cfg.BreakerOpenDelay <= 0 {
		cfg.BreakerOpenDelay = defaultBreakerOpenDelay
	}

	p := &PaystackClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		secret:  cfg.SecretKey,
		http:    &http.Client{Timeout: cfg.Timeout},
		logger:  log.WithField("component", "paystack"),
	}
	for _, opt := range opts {
		opt(p)
	}

	failures := cfg.BreakerFailures
	p.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:    "paystack",
		Timeout: cfg.BreakerOpenDelay,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// Отказы клиента (4xx) не говорят о недоступности шлюза.
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return !apiErr.Temporary()
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.logger.WithFields(log.Fields{"breaker": name, "from": from.String(), "to": to.String()}).Warn("circuit breaker state changed")
		},
	})

	return p, nil
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type initializeRequest struct {
	Amount      int64             `json:"amount"`
	Email       string            `json:"email"`
	CallbackURL string            `json:"callback_url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type initializeData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type verifyData struct {
	Status          string         `json:"status"`
	Reference       string         `json:"reference"`
	Amount          int64          `json:"amount"`
	GatewayResponse string          `json:"gateway_response"`
	Metadata        json.RawMessage `json:"metadata"`
}

type refundRequest struct {
	Transaction string `json:"transaction"`
	Amount      int64  `json:"amount,omitempty"`
}

type refundData struct {
	Status string `json:"status"`
}

// CreateSession вызывает /transaction/initialize.
func (p *PaystackClient) CreateSession(ctx context.Context, req domain.SessionRequest) (domain.PaymentSession, error) {
	md := make(map[string]string, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		md[k] = v
	}
	if req.OrderID != "" {
		md["orderId"] = req.OrderID
	}

	raw, err := p.call(ctx, http.MethodPost, "/transaction/initialize", initializeRequest{
		Amount:      req.AmountMinor,
		Email:       req.Email,
		CallbackURL: req.CallbackURL,
		Metadata:    md,
	})
	if err != nil {
		return domain.PaymentSession{}, err
	}

	var data initializeData
	if err := json.Unmarshal(raw, &data); err != nil {
		return domain.PaymentSession{}, fmt.Errorf("decode initialize response: %w", err)
	}
	return domain.PaymentSession{
		Reference:   data.Reference,
		RedirectURL: data.AuthorizationURL,
		AccessCode:  data.AccessCode,
		Raw:         raw,
	}, nil
}

// Verify вызывает /transaction/verify/:reference.
func (p *PaystackClient) Verify(ctx context.Context, reference string) (domain.Verification, error) {
	if reference == "" {
		return domain.Verification{}, domain.ErrReferenceRequired
	}

	raw, err := p.call(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil)
	if err != nil {
		return domain.Verification{}, err
	}

	var data verifyData
	if err := json.Unmarshal(raw, &data); err != nil {
		return domain.Verification{}, fmt.Errorf("decode verify response: %w", err)
	}

	status := verificationStatus(data.Status)
	if data.Reference == "" {
		data.Reference = reference
	}
	return domain.Verification{
		Reference:       data.Reference,
		Status:          status,
		AmountMinor:     data.Amount,
		GatewayResponse: data.GatewayResponse,
		Metadata:        stringifyMetadata(data.Metadata),
		Raw:             raw,
	}, nil
}

// verificationStatus сводит статусы Paystack к трём исходам. abandoned, ongoing,
// pending, processing и queued означают, что покупатель ещё может завершить оплату.
func verificationStatus(gatewayStatus string) domain.VerificationStatus {
	switch strings.ToLower(gatewayStatus) {
	case "success":
		return domain.VerificationSuccess
	case "failed", "reversed":
		return domain.VerificationFailed
	default:
		return domain.VerificationPending
	}
}

// Refund вызывает /refund; нулевая сумма означает полный возврат.
func (p *PaystackClient) Refund(ctx context.Context, req domain.RefundRequest) (domain.RefundResult, error) {
	raw, err := p.call(ctx, http.MethodPost, "/refund", refundRequest{
		Transaction: req.Reference,
		Amount:      req.AmountMinor,
	})
	if err != nil {
		return domain.RefundResult{}, err
	}

	var data refundData
	if err := json.Unmarshal(raw, &data); err != nil {
		return domain.RefundResult{}, fmt.Errorf("decode refund response: %w", err)
	}
	return domain.RefundResult{Reference: req.Reference, Status: data.Status, Raw: raw}, nil
}

// call выполняет запрос через circuit breaker и возвращает поле data ответа.
func (p *PaystackClient) call(ctx context.Context, method, path string, body any) ([]byte, error) {
	return p.breaker.Execute(func() ([]byte, error) {
		var reader io.Reader
		if body != nil {
			payload, err := json.Marshal(body)
			if err != nil {
				return nil, fmt.Errorf("encode request: %w", err)
			}
			reader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+p.secret)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := p.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", method, path, err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}

		var env envelope
		decodeErr := json.Unmarshal(raw, &env)

		if resp.StatusCode >= http.StatusBadRequest {
			msg := env.Message
			if decodeErr != nil || msg == "" {
				msg = http.StatusText(resp.StatusCode)
			}
			return nil, &APIError{StatusCode: resp.StatusCode, Message: msg}
		}
		if decodeErr != nil {
			return nil, fmt.Errorf("decode response: %w", decodeErr)
		}
		if !env.Status {
			return nil, &APIError{StatusCode: resp.StatusCode, Message: env.Message}
		}
		return env.Data, nil
	})
}

// stringifyMetadata разбирает metadata; Paystack отдаёт пустую строку вместо объекта, если её нет.
func stringifyMetadata(raw json.RawMessage) map[string]string {
	var md map[string]any
	if err := json.Unmarshal(raw, &md); err != nil || len(md) == 0 {
		return nil
	}
	out := make(map[string]string, len(md))
	for k, v := range md {
		switch val := v.(type) {
		case string:
			out[k] = val
		case nil:
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}

var _ domain.PaymentGateway = (*PaystackClient)(nil)
