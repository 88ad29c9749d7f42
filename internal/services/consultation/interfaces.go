package consultation

import (
	"context"
	"time"

	"github.com/magabrotheeeer/consultation-service/internal/models"
	"github.com/magabrotheeeer/consultation-service/internal/services/channel"
)

// Repository хранилище консультаций и сообщений.
type Repository interface {
	CreateSession(ctx context.Context, session *models.Session) error
	ActivateSession(ctx context.Context, id string, at time.Time) error
	EndSession(ctx context.Context, id string, endedBy models.Role, at time.Time) (*models.Session, error)
	DeleteRequestedSession(ctx context.Context, id string) (bool, error)
	GetSession(ctx context.Context, id string) (*models.Session, error)
	CurrentSessionForUser(ctx context.Context, userID string) (*models.Session, error)
	ListSessionsForUser(ctx context.Context, userID string, limit, offset int) ([]*models.Session, error)
	ListStaleRequested(ctx context.Context, olderThan time.Time) ([]*models.Session, error)
	ListIdleActive(ctx context.Context, idleSince time.Time) ([]*models.Session, error)
	DisposeSession(ctx context.Context, id string, rating *int, decision models.Disposition) (*models.Session, error)
	AppendMessage(ctx context.Context, msg models.Message) (*models.Message, bool, error)
	ListMessages(ctx context.Context, sessionID string, afterSeq int64) ([]*models.Message, error)
}

// Ledger списания и возвраты за консультацию.
type Ledger interface {
	Debit(ctx context.Context, userID string, amount int64, reference string) (int64, error)
	Refund(ctx context.Context, sessionID string) (bool, error)
}

// Presence реестр присутствия и привязок.
type Presence interface {
	GoOnline(ctx context.Context, doctorID string) (*models.PresenceEntry, error)
	GoOffline(ctx context.Context, doctorID string) (string, error)
	Get(ctx context.Context, doctorID string) (*models.PresenceEntry, error)
	Bind(ctx context.Context, doctorID, sessionID string) error
	Unbind(ctx context.Context, doctorID, sessionID string) error
	BindPatient(ctx context.Context, patientID, sessionID string) error
	UnbindPatient(ctx context.Context, patientID, sessionID string) error
	PatientSession(ctx context.Context, patientID string) (string, bool, error)
}

// Directory справочник врачей.
type Directory interface {
	Doctor(ctx context.Context, id string) (*models.Doctor, error)
}

// Channels каналы реального времени.
type Channels interface {
	PublishToSession(ctx context.Context, sessionID string, event models.Event) error
	PublishToDoctor(ctx context.Context, doctorID string, event models.Event) error
	Subscribe(ctx context.Context, topic string) (*channel.Subscription, error)
	SubscribeDeferred(ctx context.Context, topic string) (*channel.Subscription, error)
}

// LifecyclePublisher внешняя шина событий жизненного цикла.
type LifecyclePublisher interface {
	PublishLifecycle(ctx context.Context, event models.LifecycleEvent) error
}
