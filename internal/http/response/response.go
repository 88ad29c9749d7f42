// Package response содержит вспомогательные типы и функции для формирования
// унифицированных JSON‑ответов HTTP‑обработчиков и отображения доменных ошибок
// консультаций на HTTP‑статусы.
package response

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/consultation-service/internal/models"
)

// Response описывает стандартную структуру JSON‑ответа сервера.
// Поле Status: статус запроса ("OK" или "Error").
// Поле Error: текст ошибки (опционально, при неуспехе).
// Поле Data: данные ответа (опционально, при успехе).
type Response struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Data   any    `json:"data,omitempty"`
}

// ErrorResponse: структура ошибки для Swagger-документации.
// Используется в аннотациях @Failure как возвращаемый тип ошибки.
type ErrorResponse struct {
	Status string `json:"status" example:"Error"`
	Error  string `json:"error" example:"session not active"`
}

const (
	// StatusOK: значение статуса для успешного ответа.
	StatusOK = "OK"
	// StatusError: значение статуса для ответа с ошибкой.
	StatusError = "Error"
)

// OK возвращает успешный Response без данных.
func OK() Response {
	return Response{Status: StatusOK}
}

// OKWithData возвращает успешный Response с переданными данными.
func OKWithData(data any) Response {
	return Response{
		Status: StatusOK,
		Data:   data,
	}
}

// Error возвращает Response с ошибкой и переданным сообщением.
func Error(msg string) ErrorResponse {
	return ErrorResponse{
		Status: StatusError,
		Error:  msg,
	}
}

// ValidationError формирует Response со статусом Error на основе ошибок валидации.
// Каждое нарушение формируется в человеко‑читаемый текст, объединённый через запятую.
func ValidationError(errs validator.ValidationErrors) Response {
	var errsMsgs []string

	for _, err := range errs {
		switch err.ActualTag() {
		case "required":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s is a required field", err.Field()))
		case "uuid":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s can contain only uuid", err.Field()))
		case "oneof":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s must be one of: %s", err.Field(), err.Param()))
		case "min", "max":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s must satisfy %s=%s", err.Field(), err.ActualTag(), err.Param()))
		case "gt":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s must be greater than %s", err.Field(), err.Param()))
		default:
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s is not a valid", err.Field()))
		}
	}
	return Response{
		Status: StatusError,
		Error:  strings.Join(errsMsgs, ", "),
	}
}

// domainStatuses порядок важен: первая совпавшая ошибка определяет статус.
var domainStatuses = []struct {
	err    error
	status int
}{
	{models.ErrInvalidInput, http.StatusUnprocessableEntity},
	{models.ErrForbidden, http.StatusForbidden},
	{models.ErrSessionNotFound, http.StatusNotFound},
	{models.ErrDoctorNotFound, http.StatusNotFound},
	{models.ErrUserNotFound, http.StatusNotFound},
	{models.ErrInsufficientFunds, http.StatusPaymentRequired},
	{models.ErrDoctorUnavailable, http.StatusConflict},
	{models.ErrAlreadyBound, http.StatusConflict},
	{models.ErrPatientBusy, http.StatusConflict},
	{models.ErrSessionNotActive, http.StatusConflict},
	{models.ErrSessionNotEnded, http.StatusConflict},
	{models.ErrChannelUnavailable, http.StatusServiceUnavailable},
}

// FromError подбирает HTTP-статус и текст ответа для ошибки сервиса.
// Неизвестные ошибки скрываются за 500 и общим сообщением.
func FromError(err error) (int, ErrorResponse) {
	for _, d := range domainStatuses {
		if errors.Is(err, d.err) {
			return d.status, Error(d.err.Error())
		}
	}
	return http.StatusInternalServerError, Error("internal error")
}
