// Package httpapi публикует чекаут, платежи и управление купонами по HTTP (gin).
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/vendormarket/internal/domain"
	"github.com/vladislavdragonenkov/vendormarket/internal/service/idempotency"
)

// Services — зависимости обработчиков.
type Services struct {
	Checkout CheckoutService
	Payments PaymentService
	Coupons  CouponAdmin
	// Idempotency может быть nil: тогда заголовок Idempotency-Key игнорируется.
	Idempotency *idempotency.Guard
}

// Config — параметры HTTP API.
type Config struct {
	JWTSecret string
	Logger    *log.Entry
}

// NewRouter собирает gin.Engine с маршрутами /api/v1.
func NewRouter(cfg Config, svc Services) *gin.Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = log.WithField("component", "http-api")
	}

	auth := NewAuthenticator(cfg.JWTSecret)
	h := &handlers{
		checkout: svc.Checkout,
		payments: svc.Payments,
		coupons:  svc.Coupons,
		logger:   logger,
	}

	r := gin.New()
	r.Use(recoveryMiddleware(logger), metricsMiddleware(), loggingMiddleware(logger))
	r.NoRoute(func(c *gin.Context) {
		abortWithError(c, http.StatusNotFound, domain.KindNotFound, "route not found")
	})

	api := r.Group("/api/v1")

	orders := api.Group("/orders", auth.RequireUser())
	orders.POST("/checkout", idempotencyMiddleware(svc.Idempotency, logger), h.checkoutOrder)
	orders.GET("", h.listOrders)
	orders.GET("/:id", h.getOrder)

	payments := api.Group("/payments")
	payments.GET("/verify/:reference", h.verifyPayment)
	payments.GET("/my", auth.RequireUser(), h.paymentHistory)
	payments.POST("/:reference/refund", auth.RequireUser(), RequireAdmin(), h.refundPayment)

	admin := api.Group("/admin", auth.RequireUser(), RequireAdmin())
	admin.POST("/coupons", h.createCoupon)
	admin.GET("/coupons/:code", h.getCoupon)
	admin.DELETE("/coupons/:code", h.deactivateCoupon)

	return r
}
