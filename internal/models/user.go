// Package models содержит доменные модели сервиса консультаций: пользователей,
// сессии, сообщения, записи присутствия врачей и события каналов реального времени.
package models

// Role роль участника консультации.
type Role string

const (
	// RolePatient: пациент, оплачивает консультацию.
	RolePatient Role = "patient"
	// RoleDoctor: врач, выходит онлайн и принимает сессии.
	RoleDoctor Role = "doctor"
	// RoleSystem: сообщения и завершения, инициированные самим сервисом.
	RoleSystem Role = "system"
)

// Valid сообщает, может ли роль принадлежать пользователю.
func (r Role) Valid() bool {
	return r == RolePatient || r == RoleDoctor
}

// User представляет пациента или врача.
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email,omitempty"`
	Name      string `json:"name"`
	Role      Role   `json:"role"`
	Balance   int64  `json:"balance"`             // Только для пациента, в jewel
	Specialty string `json:"specialty,omitempty"` // Только для врача
}

// Doctor запись справочника врачей.
type Doctor struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Specialty string `json:"specialty"`
	Price     int64  `json:"price"`
	Online    bool   `json:"online"`
}

// Actor вызывающий пользователь, взятый из контекста аутентификации.
type Actor struct {
	UserID string
	Role   Role
}
