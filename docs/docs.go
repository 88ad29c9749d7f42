// Package docs регистрирует OpenAPI-описание сервиса консультаций для http-swagger.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "paths": {
        "/presence/online": {"post": {"security": [{"BearerAuth": []}], "tags": ["Presence"], "summary": "Выйти онлайн", "responses": {"200": {"description": "OK"}, "403": {"description": "Forbidden"}}}},
        "/presence/offline": {"post": {"security": [{"BearerAuth": []}], "tags": ["Presence"], "summary": "Уйти офлайн", "responses": {"200": {"description": "OK"}}}},
        "/presence/events": {"get": {"security": [{"BearerAuth": []}], "tags": ["Presence"], "summary": "Поток событий врача (SSE)", "produces": ["text/event-stream"], "responses": {"200": {"description": "OK"}}}},
        "/doctors/available": {"get": {"security": [{"BearerAuth": []}], "tags": ["Doctors"], "summary": "Свободные врачи", "responses": {"200": {"description": "OK"}}}},
        "/balance": {"get": {"security": [{"BearerAuth": []}], "tags": ["Balance"], "summary": "Баланс", "responses": {"200": {"description": "OK"}}}},
        "/consultations": {
            "get": {"security": [{"BearerAuth": []}], "tags": ["Consultations"], "summary": "История консультаций", "parameters": [{"name": "limit", "in": "query", "type": "integer"}, {"name": "offset", "in": "query", "type": "integer"}], "responses": {"200": {"description": "OK"}}},
            "post": {"security": [{"BearerAuth": []}], "tags": ["Consultations"], "summary": "Начать консультацию", "parameters": [{"name": "request", "in": "body", "required": true, "schema": {"type": "object", "properties": {"doctor_id": {"type": "string"}}}}], "responses": {"201": {"description": "Created"}, "402": {"description": "Insufficient funds"}, "409": {"description": "Doctor unavailable"}}}
        },
        "/consultations/current": {"get": {"security": [{"BearerAuth": []}], "tags": ["Consultations"], "summary": "Текущая консультация", "responses": {"200": {"description": "OK"}, "404": {"description": "Not found"}}}},
        "/consultations/{id}": {"get": {"security": [{"BearerAuth": []}], "tags": ["Consultations"], "summary": "Консультация", "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}], "responses": {"200": {"description": "OK"}}}},
        "/consultations/{id}/messages": {
            "get": {"security": [{"BearerAuth": []}], "tags": ["Messages"], "summary": "Переписка", "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}, {"name": "after", "in": "query", "type": "integer"}], "responses": {"200": {"description": "OK"}}},
            "post": {"security": [{"BearerAuth": []}], "tags": ["Messages"], "summary": "Отправить сообщение", "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}, {"name": "request", "in": "body", "required": true, "schema": {"type": "object", "properties": {"id": {"type": "string"}, "text": {"type": "string"}}}}], "responses": {"201": {"description": "Created"}, "409": {"description": "Session not active"}, "503": {"description": "Channel unavailable"}}}
        },
        "/consultations/{id}/end": {"post": {"security": [{"BearerAuth": []}], "tags": ["Consultations"], "summary": "Завершить консультацию", "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}], "responses": {"200": {"description": "OK"}}}},
        "/consultations/{id}/dispose": {"post": {"security": [{"BearerAuth": []}], "tags": ["Consultations"], "summary": "Оценить и сохранить или удалить переписку", "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}, {"name": "request", "in": "body", "required": true, "schema": {"type": "object", "properties": {"rating": {"type": "integer"}, "decision": {"type": "string", "enum": ["saved", "discarded"]}}}}], "responses": {"200": {"description": "OK"}, "409": {"description": "Session not ended"}}}},
        "/consultations/{id}/events": {"get": {"security": [{"BearerAuth": []}], "tags": ["Consultations"], "summary": "Поток событий консультации (SSE)", "produces": ["text/event-stream"], "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}, {"name": "Last-Event-ID", "in": "header", "type": "string"}], "responses": {"200": {"description": "OK"}}}},
        "/payments/webhook": {"post": {"tags": ["Payments"], "summary": "Вебхук оплаты", "parameters": [{"name": "X-Api-Signature", "in": "header", "required": true, "type": "string"}], "responses": {"200": {"description": "OK"}, "401": {"description": "Bad signature"}}}}
    }
}`

// SwaggerInfo метаданные описания API.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Consultation Service API",
	Description:      "Платные онлайн-консультации с врачами: присутствие, оплата, чат и оценка",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
