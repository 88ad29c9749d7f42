// Package paymentwebhook реализует вебхук платёжного провайдера, пополняющий баланс jewel.
//
// Тело подписывается HMAC-SHA256 общим секретом, подпись в base64 передаётся
// в заголовке X-Api-Signature. Баланс пополняется только по payment.succeeded,
// повтор уведомления с тем же идентификатором платежа не пополняет второй раз.
package paymentwebhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/consultation-service/internal/http/response"
	"github.com/magabrotheeeer/consultation-service/internal/lib/sl"
)

// SignatureHeader заголовок с подписью тела.
const SignatureHeader = "X-Api-Signature"

// PaymentSucceeded единственное событие, пополняющее баланс.
const PaymentSucceeded = "payment.succeeded"

const maxBodySize = 1 << 20

// Service описывает пополнение баланса.
type Service interface {
	TopUp(ctx context.Context, paymentID, userID string, amount int64) (balance int64, duplicate bool, err error)
}

// Handler принимает уведомления провайдера.
type Handler struct {
	log           *slog.Logger
	service       Service
	webhookSecret string
	validate      *validator.Validate
}

// New создает новый Handler с переданными логгером, сервисом и секретом подписи.
func New(log *slog.Logger, service Service, secret string) *Handler {
	return &Handler{
		log:           log,
		service:       service,
		webhookSecret: secret,
		validate:      validator.New(),
	}
}

// Payload уведомление провайдера о платеже.
type Payload struct {
	Event  string `json:"event" validate:"required"`
	Object struct {
		ID     string `json:"id" validate:"required"`
		Status string `json:"status"`
		Amount struct {
			Value    string `json:"value" validate:"required"` // целое число jewel, допускается "100.00"
			Currency string `json:"currency"`
		} `json:"amount"`
		Metadata struct {
			UserID string `json:"user_id" validate:"required,uuid"`
		} `json:"metadata"`
	} `json:"object"`
}

// Sign возвращает подпись тела для заголовка X-Api-Signature.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (h *Handler) verifySignature(body []byte, signature string) bool {
	expected := Sign(h.webhookSecret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// parseAmount принимает только положительное целое количество jewel.
func parseAmount(value string) (int64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, err
	}
	if f <= 0 || f != math.Trunc(f) || f > math.MaxInt32 {
		return 0, errors.New("amount must be a positive whole number")
	}
	return int64(f), nil
}

// ServeHTTP godoc
// @Summary Вебхук оплаты
// @Description Пополняет баланс пациента по событию payment.succeeded. Идемпотентен по ID платежа.
// @Tags Payments
// @Accept json
// @Produce json
// @Param X-Api-Signature header string true "base64(HMAC-SHA256(body))"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.ErrorResponse "Некорректное тело"
// @Failure 401 {object} response.ErrorResponse "Неверная подпись"
// @Failure 404 {object} response.ErrorResponse "Пользователь не найден"
// @Router /payments/webhook [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.webhook"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		log.Error("failed to read webhook body", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}
	defer r.Body.Close()

	signature := r.Header.Get(SignatureHeader)
	if signature == "" || !h.verifySignature(body, signature) {
		log.Error("invalid or missing webhook signature")
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, response.Error("invalid signature"))
		return
	}

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Error("failed to unmarshal webhook payload", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}

	if strings.ToLower(payload.Event) != PaymentSucceeded {
		log.Info("ignored webhook event", slog.String("event", payload.Event))
		render.JSON(w, r, response.OK())
		return
	}

	if err := h.validate.Struct(payload); err != nil {
		log.Error("validation failed", sl.Err(err))
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}
	amount, err := parseAmount(payload.Object.Amount.Value)
	if err != nil {
		log.Error("invalid amount", slog.String("value", payload.Object.Amount.Value), sl.Err(err))
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, response.Error("invalid amount"))
		return
	}

	balance, duplicate, err := h.service.TopUp(r.Context(), payload.Object.ID, payload.Object.Metadata.UserID, amount)
	if err != nil {
		log.Error("failed to top up balance", sl.Err(err))
		status, errBody := response.FromError(err)
		render.Status(r, status)
		render.JSON(w, r, errBody)
		return
	}

	log.Info("webhook processed successfully",
		slog.String("payment_id", payload.Object.ID),
		slog.Int64("amount", amount),
		slog.Bool("duplicate", duplicate),
	)
	render.JSON(w, r, response.OKWithData(map[string]any{
		"balance":   balance,
		"duplicate": duplicate,
	}))
}
