package models

import "time"

// PresenceEntry состояние присутствия врача.
type PresenceEntry struct {
	DoctorID       string    `json:"doctor_id"`
	Online         bool      `json:"online"`
	BoundSessionID *string   `json:"bound_session_id,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Available врач онлайн и не занят сессией.
func (p PresenceEntry) Available() bool {
	return p.Online && p.BoundSessionID == nil
}
