// Package promo — администрирование скидочных купонов.
package promo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/vendormarket/internal/domain"
)

// CreateRequest — параметры нового купона.
type CreateRequest struct {
	Code               string            `validate:"required,min=4,max=64"`
	Kind               domain.CouponKind `validate:"required,oneof=percentage fixed"`
	Value              decimal.Decimal
	ExpiresAt          time.Time `validate:"required"`
	MinOrderAmount     decimal.Decimal
	MaxUses            int    `validate:"gte=0"`
	RestrictedToUserID string `validate:"omitempty,max=128"`
}

// Option настраивает Service.
type Option func(*Service)

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger задаёт логгер сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Service создаёт, читает и отключает купоны.
type Service struct {
	coupons  domain.CouponRepository
	validate *validator.Validate
	logger   *log.Entry
	now      func() time.Time
}

// NewService создаёт сервис поверх репозитория купонов.
func NewService(coupons domain.CouponRepository, opts ...Option) *Service {
	s := &Service{
		coupons:  coupons,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   log.WithField("component", "promo"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create нормализует код и сохраняет купон. MaxUses 0 означает одно использование.
func (s *Service) Create(ctx context.Context, req CreateRequest) (domain.Coupon, error) {
	req.Code = domain.NormalizeCouponCode(req.Code)
	req.Kind = domain.CouponKind(strings.ToLower(strings.TrimSpace(string(req.Kind))))
	req.RestrictedToUserID = strings.TrimSpace(req.RestrictedToUserID)

	if err := s.validate.Struct(req); err != nil {
		return domain.Coupon{}, validationError(err)
	}

	now := s.now().UTC()
	if !req.ExpiresAt.After(now) {
		return domain.Coupon{}, domain.ErrCouponExpiryInvalid
	}
	if req.MaxUses == 0 {
		req.MaxUses = 1
	}

	c := domain.Coupon{
		Code:               req.Code,
		Kind:               req.Kind,
		Value:              req.Value,
		ExpiresAt:          req.ExpiresAt.UTC(),
		MinOrderAmount:     req.MinOrderAmount,
		MaxUses:            req.MaxUses,
		RestrictedToUserID: req.RestrictedToUserID,
		IsActive:           true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := c.Validate(); err != nil {
		return domain.Coupon{}, err
	}
	if !c.Value.IsPositive() {
		return domain.Coupon{}, domain.ErrCouponValueInvalid
	}

	if err := s.coupons.Create(ctx, c); err != nil {
		if errors.Is(err, domain.ErrCouponCodeTaken) {
			return domain.Coupon{}, err
		}
		return domain.Coupon{}, domain.Classify(err)
	}

	s.logger.WithFields(log.Fields{
		"coupon":     c.Code,
		"kind":       c.Kind,
		"value":      c.Value.String(),
		"max_uses":   c.MaxUses,
		"expires_at": c.ExpiresAt,
	}).Info("coupon created")
	return c, nil
}

// Get возвращает купон по коду.
func (s *Service) Get(ctx context.Context, code string) (domain.Coupon, error) {
	code = domain.NormalizeCouponCode(code)
	if code == "" {
		return domain.Coupon{}, domain.ErrCouponCodeInvalid
	}
	c, err := s.coupons.GetByCode(ctx, code)
	if err != nil {
		return domain.Coupon{}, domain.Classify(err)
	}
	return c, nil
}

// Deactivate снимает купон с использования.
func (s *Service) Deactivate(ctx context.Context, code string) error {
	code = domain.NormalizeCouponCode(code)
	if code == "" {
		return domain.ErrCouponCodeInvalid
	}
	if err := s.coupons.Deactivate(ctx, code); err != nil {
		return domain.Classify(err)
	}
	s.logger.WithField("coupon", code).Info("coupon deactivated")
	return nil
}

func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	fe := fieldErrs[0]
	switch fe.Field() {
	case "Code":
		return domain.ErrCouponCodeInvalid
	case "Kind":
		return domain.ErrCouponKindInvalid
	case "ExpiresAt":
		return domain.ErrCouponExpiryInvalid
	default:
		return fmt.Errorf("%w: %s failed on %s", domain.ErrInvalidInput, fe.Field(), fe.Tag())
	}
}
