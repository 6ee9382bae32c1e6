package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/vendormarket/internal/domain"
	"github.com/vladislavdragonenkov/vendormarket/internal/service/idempotency"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	headerReplayed       = "Idempotent-Replayed"

	maxIdempotencyKeyLen = 255
	maxBodyBytes         = 1 << 20
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_http_requests_total",
		Help: "Количество HTTP-запросов по маршруту и статусу",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "marketplace_http_request_duration_seconds",
		Help:    "Длительность обработки HTTP-запросов",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)

func routeLabel(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return "unmatched"
}

func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := routeLabel(c)
		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

func loggingMiddleware(logger *log.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := logger.WithFields(log.Fields{
			"method":   c.Request.Method,
			"route":    routeLabel(c),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
			"client":   c.ClientIP(),
		})
		if userID := c.GetString(ctxUserID); userID != "" {
			entry = entry.WithField("user_id", userID)
		}

		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			entry.Warn("http request")
		default:
			entry.Debug("http request")
		}
	}
}

func recoveryMiddleware(logger *log.Entry) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, recovered any) {
		logger.WithFields(log.Fields{
			"panic": recovered,
			"route": routeLabel(c),
		}).Error("panic in http handler")
		c.AbortWithStatusJSON(http.StatusInternalServerError, internalErrorBody)
	})
}

// responseRecorder дублирует тело ответа, чтобы сохранить его под Idempotency-Key.
type responseRecorder struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *responseRecorder) WriteString(s string) (int, error) {
	r.body.WriteString(s)
	return r.ResponseWriter.WriteString(s)
}

// idempotencyMiddleware применяет протокол Idempotency-Key. Ключи изолированы по покупателю,
// поэтому ставится после RequireUser. Запросы без заголовка проходят как есть.
func idempotencyMiddleware(guard *idempotency.Guard, logger *log.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(headerIdempotencyKey))
		if guard == nil || key == "" {
			c.Next()
			return
		}
		if len(key) > maxIdempotencyKeyLen {
			abortWithError(c, http.StatusBadRequest, domain.KindInvalidInput, "Idempotency-Key is too long")
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
		if err != nil {
			badRequest(c, err)
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		decision, err := guard.Begin(c.Request.Context(), c.GetString(ctxUserID), key, c.FullPath(), body)
		if err != nil {
			respondError(c, logger, domain.Classify(err))
			return
		}

		switch decision.Action {
		case idempotency.ActionReplay:
			c.Header(headerReplayed, "true")
			c.Data(decision.HTTPStatus, "application/json; charset=utf-8", decision.Body)
			c.Abort()
			return
		case idempotency.ActionInFlight:
			abortWithError(c, http.StatusConflict, kindConflict, "request with this Idempotency-Key is still in progress")
			return
		case idempotency.ActionMismatch:
			abortWithError(c, http.StatusUnprocessableEntity, kindIdempotencyMismatch, "Idempotency-Key was used with a different request")
			return
		}

		recorder := &responseRecorder{ResponseWriter: c.Writer}
		c.Writer = recorder
		completeCtx := context.WithoutCancel(c.Request.Context())
		defer func() {
			// Паника дойдёт до recoveryMiddleware; ключ фиксируется с тем же ответом 500.
			if p := recover(); p != nil {
				body, _ := json.Marshal(internalErrorBody)
				guard.Complete(completeCtx, decision.Key, http.StatusInternalServerError, body)
				panic(p)
			}
		}()
		c.Next()

		guard.Complete(completeCtx, decision.Key, recorder.Status(), recorder.body.Bytes())
	}
}
