package models

import "time"

// Message сообщение чата консультации. После создания не изменяется.
//
// Seq назначается при добавлении и задаёт порядок внутри сессии.
type Message struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	Seq        int64     `json:"seq"`
	SenderRole Role      `json:"sender_role"`
	Text       string    `json:"text"`
	SentAt     time.Time `json:"sent_at"`
}
