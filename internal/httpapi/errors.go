package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/vendormarket/internal/domain"
)

const (
	kindUnauthorized        = "unauthorized"
	kindForbidden           = "forbidden"
	kindConflict            = "conflict"
	kindIdempotencyMismatch = "idempotency_mismatch"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

var internalErrorBody = errorBody{Error: errorDetail{Kind: domain.KindInternal, Message: "internal server error"}}

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// statusForError сопоставляет категорию ошибки с HTTP-статусом.
func statusForError(err error) (int, string) {
	if domain.IsVersionConflict(err) {
		return http.StatusConflict, kindConflict
	}

	kind := domain.ErrorKind(err)
	switch kind {
	case domain.KindInvalidInput:
		return http.StatusBadRequest, kind
	case domain.KindInvalidCoupon:
		return http.StatusUnprocessableEntity, kind
	case domain.KindNotFound:
		return http.StatusNotFound, kind
	case domain.KindPaymentGateway:
		return http.StatusBadGateway, kind
	default:
		return http.StatusInternalServerError, kind
	}
}

// respondError пишет ошибку в едином формате. Сообщения 5xx не раскрывают детали хранилища.
func respondError(c *gin.Context, logger *log.Entry, err error) {
	status, kind := statusForError(err)
	message := err.Error()

	entry := logger.WithError(err).WithFields(log.Fields{
		"status": status,
		"kind":   kind,
		"route":  c.FullPath(),
	})
	switch {
	case status >= http.StatusInternalServerError && status != http.StatusBadGateway:
		entry.Error("request failed")
		message = "internal server error"
	case status == http.StatusBadGateway:
		entry.Warn("payment gateway failure")
		message = "payment gateway is unavailable, retry later"
	default:
		entry.Debug("request rejected")
	}

	abortWithError(c, status, kind, message)
}

func abortWithError(c *gin.Context, status int, kind, message string) {
	c.AbortWithStatusJSON(status, errorBody{Error: errorDetail{Kind: kind, Message: message}})
}

func badRequest(c *gin.Context, err error) {
	abortWithError(c, http.StatusBadRequest, domain.KindInvalidInput, "invalid request body: "+err.Error())
}
