package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан, оплата ещё не подтверждена.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusProcessing — заказ передан продавцу в работу.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusCompleted — оплата подтверждена шлюзом.
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusCancelled — заказ отменён.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusRefunded — средства возвращены покупателю.
	OrderStatusRefunded OrderStatus = "refunded"
)

// PaymentStatus используется и в заказе, и в записи платежа.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
	// PaymentStatusRefunding — возврат запрошен у шлюза, но ещё не записан. Бывает только у платежа.
	PaymentStatusRefunding PaymentStatus = "refunding"
)

// PaymentMethod — платёжный провайдер, выбранный покупателем.
type PaymentMethod string

const (
	PaymentMethodPaystack    PaymentMethod = "paystack"
	PaymentMethodPaypal      PaymentMethod = "paypal"
	PaymentMethodFlutterwave PaymentMethod = "flutterwave"
)

// ParsePaymentMethod нормализует название провайдера.
func ParsePaymentMethod(raw string) (PaymentMethod, error) {
	switch m := PaymentMethod(strings.ToLower(strings.TrimSpace(raw))); m {
	case PaymentMethodPaystack, PaymentMethodPaypal, PaymentMethodFlutterwave:
		return m, nil
	case "":
		return PaymentMethodPaystack, nil
	default:
		return "", ErrPaymentMethodInvalid
	}
}

// BillingAddress — контактные данные плательщика.
type BillingAddress struct {
	FirstName string
	LastName  string
	Email     string
	Phone     string
}

// OrderLineItem — неизменяемый срез товара на момент покупки.
type OrderLineItem struct {
	ProductID       string
	ProductName     string
	ProductImage    string
	VendorID        string
	VendorName      string
	VariantID       string
	VariantName     string
	VariantDuration string
	Quantity        int
	PriceAtPurchase decimal.Decimal
	LineTotal       decimal.Decimal
}

// Order агрегирует состояние заказа и его позиции.
type Order struct {
	ID                string
	BuyerID           string
	Items             []OrderLineItem
	BillingAddress    BillingAddress
	Subtotal          decimal.Decimal
	DiscountAmount    decimal.Decimal
	TaxAmount         decimal.Decimal
	TotalAmount       decimal.Decimal
	PaymentMethod     PaymentMethod
	PaymentStatus     PaymentStatus
	Status            OrderStatus
	AppliedCouponCode string
	// TransactionID хранит reference платёжной сессии.
	TransactionID string
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ProductNames возвращает названия товаров через запятую.
func (o *Order) ProductNames() string {
	names := make([]string, 0, len(o.Items))
	for _, item := range o.Items {
		names = append(names, item.ProductName)
	}
	return strings.Join(names, ", ")
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.BuyerID == "" {
		errs = append(errs, ErrBuyerRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if o.Subtotal.IsNegative() || o.DiscountAmount.IsNegative() || o.TaxAmount.IsNegative() || o.TotalAmount.IsNegative() {
		errs = append(errs, ErrAmountNegative)
	}

	// Сверяем подытог с позициями: qty * price.
	calc := decimal.Zero
	for _, item := range o.Items {
		if item.Quantity <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.PriceAtPurchase.IsNegative() {
			errs = append(errs, ErrAmountNegative)
		}
		calc = calc.Add(item.LineTotal)
	}
	if !calc.Equal(o.Subtotal) || o.DiscountAmount.GreaterThan(o.Subtotal) {
		errs = append(errs, ErrAmountMismatch)
	}
	if !o.Subtotal.Sub(o.DiscountAmount).Add(o.TaxAmount).Equal(o.TotalAmount) {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}

// Clone возвращает копию заказа, не разделяющую срез позиций.
func (o Order) Clone() Order {
	o.Items = append([]OrderLineItem(nil), o.Items...)
	return o
}
