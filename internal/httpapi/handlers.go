package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/vendormarket/internal/domain"
	"github.com/vladislavdragonenkov/vendormarket/internal/service/checkout"
	"github.com/vladislavdragonenkov/vendormarket/internal/service/promo"
)

// CheckoutService — операции заказов, доступные покупателю.
type CheckoutService interface {
	Checkout(ctx context.Context, req checkout.Request) (checkout.Result, error)
	ListOrders(ctx context.Context, buyerID string) ([]domain.Order, error)
	GetOrder(ctx context.Context, buyerID, orderID string) (domain.Order, error)
}

// PaymentService — подтверждение, возврат и история платежей.
type PaymentService interface {
	Verify(ctx context.Context, reference string) (domain.Payment, error)
	Refund(ctx context.Context, reference string, amount decimal.Decimal) (domain.Payment, error)
	History(ctx context.Context, userID string) ([]domain.Payment, error)
}

// CouponAdmin — управление купонами.
type CouponAdmin interface {
	Create(ctx context.Context, req promo.CreateRequest) (domain.Coupon, error)
	Get(ctx context.Context, code string) (domain.Coupon, error)
	Deactivate(ctx context.Context, code string) error
}

type handlers struct {
	checkout CheckoutService
	payments PaymentService
	coupons  CouponAdmin
	logger   *log.Entry
}

func (h *handlers) checkoutOrder(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	method, err := domain.ParsePaymentMethod(req.PaymentMethod)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	items := make([]domain.CartItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, domain.CartItem{ProductID: it.ProductID, VariantID: it.VariantID, Quantity: it.Quantity})
	}

	result, err := h.checkout.Checkout(c.Request.Context(), checkout.Request{
		BuyerID:    c.GetString(ctxUserID),
		BuyerEmail: c.GetString(ctxEmail),
		Items:      items,
		BillingAddress: domain.BillingAddress{
			FirstName: req.BillingAddress.FirstName,
			LastName:  req.BillingAddress.LastName,
			Email:     req.BillingAddress.Email,
			Phone:     req.BillingAddress.Phone,
		},
		PaymentMethod: method,
		CouponCode:    req.CouponCode,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, checkoutResponse{
		Order:   toOrderResponse(result.Order),
		Payment: toPaymentResponse(result.Payment),
		Session: sessionResponse{
			Reference:        result.Session.Reference,
			AuthorizationURL: result.Session.RedirectURL,
			AccessCode:       result.Session.AccessCode,
		},
		NewCouponCode: result.NewCouponCode,
	})
}

func (h *handlers) listOrders(c *gin.Context) {
	orders, err := h.checkout.ListOrders(c.Request.Context(), c.GetString(ctxUserID))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	resp := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		resp = append(resp, toOrderResponse(o))
	}
	c.JSON(http.StatusOK, gin.H{"orders": resp})
}

func (h *handlers) getOrder(c *gin.Context) {
	order, err := h.checkout.GetOrder(c.Request.Context(), c.GetString(ctxUserID), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": toOrderResponse(order)})
}

func (h *handlers) verifyPayment(c *gin.Context) {
	payment, err := h.payments.Verify(c.Request.Context(), c.Param("reference"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment": toPaymentResponse(payment)})
}

func (h *handlers) paymentHistory(c *gin.Context) {
	payments, err := h.payments.History(c.Request.Context(), c.GetString(ctxUserID))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	resp := make([]paymentResponse, 0, len(payments))
	for _, p := range payments {
		resp = append(resp, toPaymentResponse(p))
	}
	c.JSON(http.StatusOK, gin.H{"payments": resp})
}

func (h *handlers) refundPayment(c *gin.Context) {
	var req refundRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}

	payment, err := h.payments.Refund(c.Request.Context(), c.Param("reference"), req.Amount)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment": toPaymentResponse(payment)})
}

func (h *handlers) createCoupon(c *gin.Context) {
	var req createCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	created, err := h.coupons.Create(c.Request.Context(), promo.CreateRequest{
		Code:               req.Code,
		Kind:               domain.CouponKind(req.Kind),
		Value:              req.Value,
		ExpiresAt:          req.ExpiresAt,
		MinOrderAmount:     req.MinOrderAmount,
		MaxUses:            req.MaxUses,
		RestrictedToUserID: req.RestrictedToUserID,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"coupon": toCouponResponse(created)})
}

func (h *handlers) getCoupon(c *gin.Context) {
	found, err := h.coupons.Get(c.Request.Context(), c.Param("code"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"coupon": toCouponResponse(found)})
}

func (h *handlers) deactivateCoupon(c *gin.Context) {
	if err := h.coupons.Deactivate(c.Request.Context(), c.Param("code")); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}
