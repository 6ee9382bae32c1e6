package mongo

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/vladislavdragonenkov/vendormarket/internal/domain"
)

// Денежные суммы хранятся как Decimal128, чтобы не терять точность.

// decEncoder запоминает первую ошибку конвертации, чтобы не проверять каждое поле.
type decEncoder struct {
	err error
}

func (e *decEncoder) enc(d decimal.Decimal) primitive.Decimal128 {
	if e.err != nil {
		return primitive.Decimal128{}
	}
	v, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		e.err = fmt.Errorf("decimal %s does not fit Decimal128: %w", d, err)
	}
	return v
}

func fromDecimal128(v primitive.Decimal128) (decimal.Decimal, error) {
	s := v.String()
	if s == "" || s == "NaN" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse Decimal128 %q: %w", s, err)
	}
	return d, nil
}

type lineItemDoc struct {
	ProductID       string               `bson:"productId"`
	ProductName     string               `bson:"productName"`
	ProductImage    string               `bson:"productImage"`
	VendorID        string               `bson:"vendorId"`
	VendorName      string               `bson:"vendorName"`
	VariantID       string               `bson:"variantId"`
	VariantName     string               `bson:"variantName"`
	VariantDuration string               `bson:"variantDuration"`
	Quantity        int                  `bson:"quantity"`
	PriceAtPurchase primitive.Decimal128 `bson:"priceAtPurchase"`
	LineTotal       primitive.Decimal128 `bson:"lineTotal"`
}

type billingDoc struct {
	FirstName string `bson:"firstName"`
	LastName  string `bson:"lastName"`
	Email     string `bson:"email"`
	Phone     string `bson:"phone"`
}

type orderDoc struct {
	ID                string               `bson:"_id"`
	BuyerID           string               `bson:"buyerId"`
	Items             []lineItemDoc        `bson:"items"`
	BillingAddress    billingDoc           `bson:"billingAddress"`
	Subtotal          primitive.Decimal128 `bson:"subtotal"`
	DiscountAmount    primitive.Decimal128 `bson:"discountAmount"`
	TaxAmount         primitive.Decimal128 `bson:"taxAmount"`
	TotalAmount       primitive.Decimal128 `bson:"totalAmount"`
	PaymentMethod     string               `bson:"paymentMethod"`
	PaymentStatus     string               `bson:"paymentStatus"`
	Status            string               `bson:"status"`
	AppliedCouponCode string               `bson:"appliedCouponCode,omitempty"`
	TransactionID     string               `bson:"transactionId,omitempty"`
	Version           int64                `bson:"version"`
	CreatedAt         time.Time            `bson:"createdAt"`
	UpdatedAt         time.Time            `bson:"updatedAt"`
}

func newOrderDoc(o domain.Order) (orderDoc, error) {
	var e decEncoder
	items := make([]lineItemDoc, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, lineItemDoc{
			ProductID:       it.ProductID,
			ProductName:     it.ProductName,
			ProductImage:    it.ProductImage,
			VendorID:        it.VendorID,
			VendorName:      it.VendorName,
			VariantID:       it.VariantID,
			VariantName:     it.VariantName,
			VariantDuration: it.VariantDuration,
			Quantity:        it.Quantity,
			PriceAtPurchase: e.enc(it.PriceAtPurchase),
			LineTotal:       e.enc(it.LineTotal),
		})
	}

	doc := orderDoc{
		ID:      o.ID,
		BuyerID: o.BuyerID,
		Items:   items,
		BillingAddress: billingDoc{
			FirstName: o.BillingAddress.FirstName,
			LastName:  o.BillingAddress.LastName,
			Email:     o.BillingAddress.Email,
			Phone:     o.BillingAddress.Phone,
		},
		Subtotal:          e.enc(o.Subtotal),
		DiscountAmount:    e.enc(o.DiscountAmount),
		TaxAmount:         e.enc(o.TaxAmount),
		TotalAmount:       e.enc(o.TotalAmount),
		PaymentMethod:     string(o.PaymentMethod),
		PaymentStatus:     string(o.PaymentStatus),
		Status:            string(o.Status),
		AppliedCouponCode: o.AppliedCouponCode,
		TransactionID:     o.TransactionID,
		Version:           o.Version,
		CreatedAt:         o.CreatedAt.UTC(),
		UpdatedAt:         o.UpdatedAt.UTC(),
	}
	return doc, e.err
}

func (d orderDoc) toDomain() (domain.Order, error) {
	items := make([]domain.OrderLineItem, 0, len(d.Items))
	for _, it := range d.Items {
		price, err := fromDecimal128(it.PriceAtPurchase)
		if err != nil {
			return domain.Order{}, err
		}
		total, err := fromDecimal128(it.LineTotal)
		if err != nil {
			return domain.Order{}, err
		}
		items = append(items, domain.OrderLineItem{
			ProductID:       it.ProductID,
			ProductName:     it.ProductName,
			ProductImage:    it.ProductImage,
			VendorID:        it.VendorID,
			VendorName:      it.VendorName,
			VariantID:       it.VariantID,
			VariantName:     it.VariantName,
			VariantDuration: it.VariantDuration,
			Quantity:        it.Quantity,
			PriceAtPurchase: price,
			LineTotal:       total,
		})
	}

	var amounts [4]decimal.Decimal
	for i, raw := range []primitive.Decimal128{d.Subtotal, d.DiscountAmount, d.TaxAmount, d.TotalAmount} {
		v, err := fromDecimal128(raw)
		if err != nil {
			return domain.Order{}, err
		}
		amounts[i] = v
	}

	return domain.Order{
		ID:      d.ID,
		BuyerID: d.BuyerID,
		Items:   items,
		BillingAddress: domain.BillingAddress{
			FirstName: d.BillingAddress.FirstName,
			LastName:  d.BillingAddress.LastName,
			Email:     d.BillingAddress.Email,
			Phone:     d.BillingAddress.Phone,
		},
		Subtotal:          amounts[0],
		DiscountAmount:    amounts[1],
		TaxAmount:         amounts[2],
		TotalAmount:       amounts[3],
		PaymentMethod:     domain.PaymentMethod(d.PaymentMethod),
		PaymentStatus:     domain.PaymentStatus(d.PaymentStatus),
		Status:            domain.OrderStatus(d.Status),
		AppliedCouponCode: d.AppliedCouponCode,
		TransactionID:     d.TransactionID,
		Version:           d.Version,
		CreatedAt:         d.CreatedAt.UTC(),
		UpdatedAt:         d.UpdatedAt.UTC(),
	}, nil
}

type couponDoc struct {
	Code               string               `bson:"_id"`
	Kind               string               `bson:"kind"`
	Value              primitive.Decimal128 `bson:"value"`
	ExpiresAt          time.Time            `bson:"expiresAt"`
	MinOrderAmount     primitive.Decimal128 `bson:"minOrderAmount"`
	MaxUses            int                  `bson:"maxUses"`
	UsesCount          int                  `bson:"usesCount"`
	RestrictedToUserID string               `bson:"restrictedToUserId"`
	UsedByUserIDs      []string             `bson:"usedByUserIds"`
	IsActive           bool                 `bson:"isActive"`
	CreatedAt          time.Time            `bson:"createdAt"`
	UpdatedAt          time.Time            `bson:"updatedAt"`
}

func newCouponDoc(c domain.Coupon) (couponDoc, error) {
	var e decEncoder
	used := c.UsedByUserIDs
	if used == nil {
		used = []string{}
	}
	doc := couponDoc{
		Code:               c.Code,
		Kind:               string(c.Kind),
		Value:              e.enc(c.Value),
		ExpiresAt:          c.ExpiresAt.UTC(),
		MinOrderAmount:     e.enc(c.MinOrderAmount),
		MaxUses:            c.MaxUses,
		UsesCount:          c.UsesCount,
		RestrictedToUserID: c.RestrictedToUserID,
		UsedByUserIDs:      used,
		IsActive:           c.IsActive,
		CreatedAt:          c.CreatedAt.UTC(),
		UpdatedAt:          c.UpdatedAt.UTC(),
	}
	return doc, e.err
}

func (d couponDoc) toDomain() (domain.Coupon, error) {
	value, err := fromDecimal128(d.Value)
	if err != nil {
		return domain.Coupon{}, err
	}
	minAmount, err := fromDecimal128(d.MinOrderAmount)
	if err != nil {
		return domain.Coupon{}, err
	}
	return domain.Coupon{
		Code:               d.Code,
		Kind:               domain.CouponKind(d.Kind),
		Value:              value,
		ExpiresAt:          d.ExpiresAt.UTC(),
		MinOrderAmount:     minAmount,
		MaxUses:            d.MaxUses,
		UsesCount:          d.UsesCount,
		RestrictedToUserID: d.RestrictedToUserID,
		UsedByUserIDs:      append([]string(nil), d.UsedByUserIDs...),
		IsActive:           d.IsActive,
		CreatedAt:          d.CreatedAt.UTC(),
		UpdatedAt:          d.UpdatedAt.UTC(),
	}, nil
}

type paymentDoc struct {
	ID              string               `bson:"_id"`
	OrderID         string               `bson:"orderId"`
	UserID          string               `bson:"userId"`
	Reference       string               `bson:"reference"`
	Amount          primitive.Decimal128 `bson:"amount"`
	RefundedAmount  primitive.Decimal128 `bson:"refundedAmount"`
	Status          string               `bson:"status"`
	Metadata        map[string]string    `bson:"metadata,omitempty"`
	GatewayResponse string               `bson:"gatewayResponse"`
	ProcessedAt     *time.Time           `bson:"processedAt,omitempty"`
	CreatedAt       time.Time            `bson:"createdAt"`
	UpdatedAt       time.Time            `bson:"updatedAt"`
}

func newPaymentDoc(p domain.Payment) (paymentDoc, error) {
	var e decEncoder
	doc := paymentDoc{
		ID:              p.ID,
		OrderID:         p.OrderID,
		UserID:          p.UserID,
		Reference:       p.Reference,
		Amount:          e.enc(p.Amount),
		RefundedAmount:  e.enc(p.RefundedAmount),
		Status:          string(p.Status),
		Metadata:        p.Clone().Metadata,
		GatewayResponse: p.GatewayResponse,
		CreatedAt:       p.CreatedAt.UTC(),
		UpdatedAt:       p.UpdatedAt.UTC(),
	}
	if !p.ProcessedAt.IsZero() {
		at := p.ProcessedAt.UTC()
		doc.ProcessedAt = &at
	}
	return doc, e.err
}

func (d paymentDoc) toDomain() (domain.Payment, error) {
	amount, err := fromDecimal128(d.Amount)
	if err != nil {
		return domain.Payment{}, err
	}
	refunded, err := fromDecimal128(d.RefundedAmount)
	if err != nil {
		return domain.Payment{}, err
	}
	p := domain.Payment{
		ID:              d.ID,
		OrderID:         d.OrderID,
		UserID:          d.UserID,
		Reference:       d.Reference,
		Amount:          amount,
		RefundedAmount:  refunded,
		Status:          domain.PaymentStatus(d.Status),
		Metadata:        d.Metadata,
		GatewayResponse: d.GatewayResponse,
		CreatedAt:       d.CreatedAt.UTC(),
		UpdatedAt:       d.UpdatedAt.UTC(),
	}
	if d.ProcessedAt != nil {
		p.ProcessedAt = d.ProcessedAt.UTC()
	}
	return p.Clone(), nil
}

type variantDoc struct {
	ID              string               `bson:"id"`
	Name            string               `bson:"name"`
	Duration        string               `bson:"duration"`
	BasePrice       primitive.Decimal128 `bson:"basePrice"`
	DiscountPercent primitive.Decimal128 `bson:"discountPercent"`
	SellingPrice    primitive.Decimal128 `bson:"sellingPrice"`
}

type productDoc struct {
	ID       string       `bson:"_id"`
	Name     string       `bson:"name"`
	VendorID string       `bson:"vendorId"`
	Photos   []string     `bson:"photos"`
	Variants []variantDoc `bson:"variants"`
}

func newProductDoc(p domain.Product) (productDoc, error) {
	var e decEncoder
	variants := make([]variantDoc, 0, len(p.Variants))
	for _, v := range p.Variants {
		if v.SellingPrice.IsZero() && !v.BasePrice.IsZero() {
			v.SellingPrice = domain.SellingPrice(v.BasePrice, v.DiscountPercent)
		}
		variants = append(variants, variantDoc{
			ID:              v.ID,
			Name:            v.Name,
			Duration:        v.Duration,
			BasePrice:       e.enc(v.BasePrice),
			DiscountPercent: e.enc(v.DiscountPercent),
			SellingPrice:    e.enc(v.SellingPrice),
		})
	}
	photos := p.Photos
	if photos == nil {
		photos = []string{}
	}
	return productDoc{ID: p.ID, Name: p.Name, VendorID: p.VendorID, Photos: photos, Variants: variants}, e.err
}

func (d productDoc) toDomain() (domain.Product, error) {
	variants := make([]domain.Variant, 0, len(d.Variants))
	for _, v := range d.Variants {
		base, err := fromDecimal128(v.BasePrice)
		if err != nil {
			return domain.Product{}, err
		}
		discount, err := fromDecimal128(v.DiscountPercent)
		if err != nil {
			return domain.Product{}, err
		}
		selling, err := fromDecimal128(v.SellingPrice)
		if err != nil {
			return domain.Product{}, err
		}
		variants = append(variants, domain.Variant{
			ID:              v.ID,
			Name:            v.Name,
			Duration:        v.Duration,
			BasePrice:       base,
			DiscountPercent: discount,
			SellingPrice:    selling,
		})
	}
	return domain.Product{
		ID:       d.ID,
		Name:     d.Name,
		VendorID: d.VendorID,
		Photos:   append([]string(nil), d.Photos...),
		Variants: variants,
	}, nil
}

type vendorDoc struct {
	ID          string `bson:"_id"`
	CompanyName string `bson:"companyName"`
	FullName    string `bson:"fullName"`
	Email       string `bson:"email"`
}
