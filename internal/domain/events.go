package domain

// Типы событий, которые пишутся в outbox.
const (
	EventOrderCreated    = "order.created"
	EventCouponRedeemed  = "coupon.redeemed"
	EventCouponIssued    = "coupon.issued"
	EventPaymentVerified = "payment.verified"
	EventPaymentRefunded = "payment.refunded"
)

// Типы агрегатов outbox.
const (
	AggregateOrder   = "order"
	AggregateCoupon  = "coupon"
	AggregatePayment = "payment"
)
