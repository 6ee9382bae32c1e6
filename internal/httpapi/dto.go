package httpapi

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/vendormarket/internal/domain"
)

type cartItemRequest struct {
	ProductID string `json:"productId" binding:"required"`
	VariantID string `json:"variantId" binding:"required"`
	Quantity  int    `json:"quantity"`
}

type billingAddressPayload struct {
	FirstName string `json:"firstName" binding:"max=128"`
	LastName  string `json:"lastName" binding:"max=128"`
	Email     string `json:"email" binding:"omitempty,email"`
	Phone     string `json:"phone" binding:"max=32"`
}

type checkoutRequest struct {
	Items          []cartItemRequest     `json:"items" binding:"required,min=1,dive"`
	BillingAddress billingAddressPayload `json:"billingAddress"`
	PaymentMethod  string                `json:"paymentMethod"`
	CouponCode     string                `json:"couponCode" binding:"max=64"`
}

type refundRequest struct {
	// Amount — сумма возврата; ноль или отсутствие означает полный возврат.
	Amount decimal.Decimal `json:"amount"`
}

type createCouponRequest struct {
	Code               string          `json:"code" binding:"required"`
	Kind               string          `json:"kind" binding:"required"`
	Value              decimal.Decimal `json:"value"`
	ExpiresAt          time.Time       `json:"expiresAt" binding:"required"`
	MinOrderAmount     decimal.Decimal `json:"minOrderAmount"`
	MaxUses            int             `json:"maxUses"`
	RestrictedToUserID string          `json:"restrictedToUserId"`
}

type lineItemResponse struct {
	ProductID       string          `json:"productId"`
	ProductName     string          `json:"productName"`
	ProductImage    string          `json:"productImage,omitempty"`
	VendorID        string          `json:"vendorId"`
	VendorName      string          `json:"vendorName"`
	VariantID       string          `json:"variantId"`
	VariantName     string          `json:"variantName"`
	VariantDuration string          `json:"variantDuration,omitempty"`
	Quantity        int             `json:"quantity"`
	PriceAtPurchase decimal.Decimal `json:"priceAtPurchase"`
	LineTotal       decimal.Decimal `json:"lineTotal"`
}

type orderResponse struct {
	ID                string                `json:"id"`
	BuyerID           string                `json:"buyerId"`
	Items             []lineItemResponse    `json:"items"`
	BillingAddress    billingAddressPayload `json:"billingAddress"`
	Subtotal          decimal.Decimal       `json:"subtotal"`
	DiscountAmount    decimal.Decimal       `json:"discountAmount"`
	TaxAmount         decimal.Decimal       `json:"taxAmount"`
	TotalAmount       decimal.Decimal       `json:"totalAmount"`
	PaymentMethod     string                `json:"paymentMethod"`
	PaymentStatus     string                `json:"paymentStatus"`
	OrderStatus       string                `json:"orderStatus"`
	AppliedCouponCode string                `json:"appliedCouponCode,omitempty"`
	TransactionID     string                `json:"transactionId,omitempty"`
	CreatedAt         time.Time             `json:"createdAt"`
	UpdatedAt         time.Time             `json:"updatedAt"`
}

type paymentResponse struct {
	ID              string          `json:"id"`
	OrderID         string          `json:"orderId"`
	Reference       string          `json:"reference"`
	Amount          decimal.Decimal `json:"amount"`
	RefundedAmount  decimal.Decimal `json:"refundedAmount"`
	Status          string          `json:"status"`
	GatewayResponse string          `json:"gatewayResponse,omitempty"`
	ProcessedAt     *time.Time      `json:"processedAt,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
}

type sessionResponse struct {
	Reference        string `json:"reference"`
	AuthorizationURL string `json:"authorizationUrl"`
	AccessCode       string `json:"accessCode,omitempty"`
}

type checkoutResponse struct {
	Order         orderResponse   `json:"order"`
	Payment       paymentResponse `json:"payment"`
	Session       sessionResponse `json:"session"`
	NewCouponCode string          `json:"newCouponCode,omitempty"`
}

type couponResponse struct {
	Code               string          `json:"code"`
	Kind               string          `json:"kind"`
	Value              decimal.Decimal `json:"value"`
	ExpiresAt          time.Time       `json:"expiresAt"`
	MinOrderAmount     decimal.Decimal `json:"minOrderAmount"`
	MaxUses            int             `json:"maxUses"`
	UsesCount          int             `json:"usesCount"`
	RestrictedToUserID string          `json:"restrictedToUserId,omitempty"`
	IsActive           bool            `json:"isActive"`
}

func toOrderResponse(o domain.Order) orderResponse {
	items := make([]lineItemResponse, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, lineItemResponse{
			ProductID:       it.ProductID,
			ProductName:     it.ProductName,
			ProductImage:    it.ProductImage,
			VendorID:        it.VendorID,
			VendorName:      it.VendorName,
			VariantID:       it.VariantID,
			VariantName:     it.VariantName,
			VariantDuration: it.VariantDuration,
			Quantity:        it.Quantity,
			PriceAtPurchase: it.PriceAtPurchase,
			LineTotal:       it.LineTotal,
		})
	}

	return orderResponse{
		ID:      o.ID,
		BuyerID: o.BuyerID,
		Items:   items,
		BillingAddress: billingAddressPayload{
			FirstName: o.BillingAddress.FirstName,
			LastName:  o.BillingAddress.LastName,
			Email:     o.BillingAddress.Email,
			Phone:     o.BillingAddress.Phone,
		},
		Subtotal:          o.Subtotal,
		DiscountAmount:    o.DiscountAmount,
		TaxAmount:         o.TaxAmount,
		TotalAmount:       o.TotalAmount,
		PaymentMethod:     string(o.PaymentMethod),
		PaymentStatus:     string(o.PaymentStatus),
		OrderStatus:       string(o.Status),
		AppliedCouponCode: o.AppliedCouponCode,
		TransactionID:     o.TransactionID,
		CreatedAt:         o.CreatedAt,
		UpdatedAt:         o.UpdatedAt,
	}
}

func toPaymentResponse(p domain.Payment) paymentResponse {
	resp := paymentResponse{
		ID:              p.ID,
		OrderID:         p.OrderID,
		Reference:       p.Reference,
		Amount:          p.Amount,
		RefundedAmount:  p.RefundedAmount,
		Status:          string(p.Status),
		GatewayResponse: p.GatewayResponse,
		CreatedAt:       p.CreatedAt,
	}
	if !p.ProcessedAt.IsZero() {
		processed := p.ProcessedAt
		resp.ProcessedAt = &processed
	}
	return resp
}

func toCouponResponse(c domain.Coupon) couponResponse {
	return couponResponse{
		Code:               c.Code,
		Kind:               string(c.Kind),
		Value:              c.Value,
		ExpiresAt:          c.ExpiresAt,
		MinOrderAmount:     c.MinOrderAmount,
		MaxUses:            c.MaxUses,
		UsesCount:          c.UsesCount,
		RestrictedToUserID: c.RestrictedToUserID,
		IsActive:           c.IsActive,
	}
}
