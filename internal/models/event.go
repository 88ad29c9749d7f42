package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventKind вид события канала.
type EventKind string

const (
	EventMessage        EventKind = "message"
	EventSessionStarted EventKind = "session_started"
	EventSessionEnded   EventKind = "session_ended"
)

// Event событие канала реального времени. Потребитель разбирает его через switch по типу.
type Event interface {
	Kind() EventKind
}

// MessageEvent новое сообщение в канале сессии.
type MessageEvent struct {
	Message Message `json:"message"`
}

// SessionStartedEvent объявление в канале врача о привязке к новой сессии.
type SessionStartedEvent struct {
	SessionID string    `json:"session_id"`
	PatientID string    `json:"patient_id"`
	DoctorID  string    `json:"doctor_id"`
	Cost      int64     `json:"cost"`
	StartedAt time.Time `json:"started_at"`
}

// SessionEndedEvent последнее событие канала сессии.
type SessionEndedEvent struct {
	SessionID string    `json:"session_id"`
	EndedBy   Role      `json:"ended_by"`
	EndedAt   time.Time `json:"ended_at"`
	Reason    string    `json:"reason,omitempty"`
}

func (MessageEvent) Kind() EventKind        { return EventMessage }
func (SessionStartedEvent) Kind() EventKind { return EventSessionStarted }
func (SessionEndedEvent) Kind() EventKind   { return EventSessionEnded }

// envelope формат события на проводе.
type envelope struct {
	Kind    EventKind       `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// EncodeEvent сериализует событие вместе с его видом.
func EncodeEvent(e Event) ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Kind: e.Kind(), Payload: payload})
}

// DecodeEvent восстанавливает событие из формата EncodeEvent.
func DecodeEvent(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	switch env.Kind {
	case EventMessage:
		var e MessageEvent
		err := json.Unmarshal(env.Payload, &e)
		return e, err
	case EventSessionStarted:
		var e SessionStartedEvent
		err := json.Unmarshal(env.Payload, &e)
		return e, err
	case EventSessionEnded:
		var e SessionEndedEvent
		err := json.Unmarshal(env.Payload, &e)
		return e, err
	default:
		return nil, fmt.Errorf("unknown event kind %q", env.Kind)
	}
}

// LifecycleEvent событие жизненного цикла консультации для внешних потребителей (RabbitMQ).
type LifecycleEvent struct {
	Type        string      `json:"type"`
	SessionID   string      `json:"session_id"`
	PatientID   string      `json:"patient_id"`
	DoctorID    string      `json:"doctor_id"`
	Cost        int64       `json:"cost"`
	EndedBy     Role        `json:"ended_by,omitempty"`
	Rating      *int        `json:"rating,omitempty"`
	Disposition Disposition `json:"disposition,omitempty"`
	At          time.Time   `json:"at"`
}

const (
	LifecycleEnded    = "consultation.ended"
	LifecycleDisposed = "consultation.disposed"
)
