package models

import "time"

// SessionState состояние консультации.
type SessionState string

const (
	StateRequested SessionState = "requested"
	StateActive    SessionState = "active"
	StateEnded     SessionState = "ended"
	StateDisposed  SessionState = "disposed"
)

// next разрешённый переход из каждого состояния. Переходы только вперёд и без пропусков.
var next = map[SessionState]SessionState{
	StateRequested: StateActive,
	StateActive:    StateEnded,
	StateEnded:     StateDisposed,
}

// CanTransition сообщает, допустим ли переход from -> to.
func CanTransition(from, to SessionState) bool {
	n, ok := next[from]
	return ok && n == to
}

// Terminal сообщает, является ли состояние конечным.
func (s SessionState) Terminal() bool {
	return s == StateDisposed
}

// Disposition решение пациента о судьбе переписки.
type Disposition string

const (
	DispositionUnset     Disposition = "unset"
	DispositionSaved     Disposition = "saved"
	DispositionDiscarded Disposition = "discarded"
)

// Session консультация между пациентом и врачом.
type Session struct {
	ID             string       `json:"id"`
	PatientID      string       `json:"patient_id"`
	DoctorID       string       `json:"doctor_id"`
	Cost           int64        `json:"cost"`
	State          SessionState `json:"state"`
	CreatedAt      time.Time    `json:"created_at"`
	EndedAt        *time.Time   `json:"ended_at,omitempty"`
	EndedBy        *Role        `json:"ended_by,omitempty"`
	LastActivityAt time.Time    `json:"last_activity_at"`
	Rating         *int         `json:"rating,omitempty"`
	Disposition    Disposition  `json:"disposition"`
}

// HasParticipant сообщает, участвует ли пользователь в сессии.
func (s *Session) HasParticipant(userID string) bool {
	return s.PatientID == userID || s.DoctorID == userID
}

// Counterparty возвращает идентификатор второй стороны.
func (s *Session) Counterparty(userID string) string {
	if userID == s.PatientID {
		return s.DoctorID
	}
	return s.PatientID
}
