// Package consultation реализует машину состояний консультации:
// запрос с оплатой и привязкой врача, переписку, завершение и распоряжение перепиской.
package consultation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/consultation-service/internal/lib/keylock"
	"github.com/magabrotheeeer/consultation-service/internal/lib/sl"
	"github.com/magabrotheeeer/consultation-service/internal/metrics"
	"github.com/magabrotheeeer/consultation-service/internal/models"
	"github.com/magabrotheeeer/consultation-service/internal/services/ledger"
)

// Причины системного завершения.
const (
	ReasonDoctorOffline = "doctor_offline"
	ReasonIdleTimeout   = "idle_timeout"
)

// MaxMessageLength предельная длина текста сообщения в символах.
const MaxMessageLength = 4000

// Service машина состояний консультаций.
//
// Порядок захвата блокировок: patient -> doctor -> session.
type Service struct {
	repo      Repository
	ledger    Ledger
	presence  Presence
	directory Directory
	channels  Channels
	lifecycle LifecyclePublisher
	metrics   *metrics.Metrics
	locks     *keylock.Locker
	log       *slog.Logger
	now       func() time.Time
}

// Deps зависимости Service.
type Deps struct {
	Repo      Repository
	Ledger    Ledger
	Presence  Presence
	Directory Directory
	Channels  Channels
	Lifecycle LifecyclePublisher
	Metrics   *metrics.Metrics
}

// New создает новый экземпляр Service.
func New(deps Deps, log *slog.Logger) *Service {
	return &Service{
		repo:      deps.Repo,
		ledger:    deps.Ledger,
		presence:  deps.Presence,
		directory: deps.Directory,
		channels:  deps.Channels,
		lifecycle: deps.Lifecycle,
		metrics:   deps.Metrics,
		locks:     keylock.New(),
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func patientLock(id string) string { return "patient:" + id }
func doctorLock(id string) string  { return "doctor:" + id }
func sessionLock(id string) string { return "session:" + id }

func (s *Service) lock(ctx context.Context, key string) (func(), error) {
	return s.locks.Lock(ctx, key)
}

// Request создает консультацию пациента с врачом doctorID.
//
// Шаги: запись requested, привязка пациента, списание стоимости, привязка врача, active.
// Любая неудача откатывает уже сделанные шаги, списание возвращается.
func (s *Service) Request(ctx context.Context, actor models.Actor, doctorID string) (*models.Session, error) {
	const op = "consultation.Request"
	log := s.log.With(slog.String("op", op), slog.String("patient_id", actor.UserID), slog.String("doctor_id", doctorID))

	if actor.Role != models.RolePatient {
		return nil, fmt.Errorf("%s: %w", op, models.ErrForbidden)
	}

	doctor, err := s.directory.Doctor(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	entry, err := s.presence.Get(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if entry == nil || !entry.Available() {
		s.reject("doctor_unavailable")
		return nil, fmt.Errorf("%s: %w", op, models.ErrDoctorUnavailable)
	}

	unlockPatient, err := s.lock(ctx, patientLock(actor.UserID))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer unlockPatient()

	now := s.now()
	session := &models.Session{
		ID:             uuid.NewString(),
		PatientID:      actor.UserID,
		DoctorID:       doctor.ID,
		Cost:           doctor.Price,
		State:          models.StateRequested,
		CreatedAt:      now,
		LastActivityAt: now,
		Disposition:    models.DispositionUnset,
	}
	log = log.With(sl.Session(session.ID))

	if err := s.repo.CreateSession(ctx, session); err != nil {
		s.reject(rejectReason(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	saga := &requestSaga{svc: s, session: session, log: log}
	if err := saga.run(ctx); err != nil {
		saga.compensate()
		s.reject(rejectReason(err))
		log.Info("consultation request rejected", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.metrics.SessionsStarted.Inc()
	s.metrics.ActiveSessions.Inc()
	log.Info("consultation started", slog.Int64("cost", session.Cost))

	started := models.SessionStartedEvent{
		SessionID: session.ID,
		PatientID: session.PatientID,
		DoctorID:  session.DoctorID,
		Cost:      session.Cost,
		StartedAt: now,
	}
	if err := s.channels.PublishToDoctor(ctx, session.DoctorID, started); err != nil {
		log.Warn("failed to announce session to doctor", sl.Err(err))
	}
	return session, nil
}

type requestSaga struct {
	svc     *Service
	session *models.Session
	log     *slog.Logger

	patientBound bool
	debited      bool
	doctorBound  bool
}

func (r *requestSaga) run(ctx context.Context) error {
	s, session := r.svc, r.session

	if err := s.bindPatient(ctx, session.PatientID, session.ID, r.log); err != nil {
		return err
	}
	r.patientBound = true

	// при неизвестной ошибке списание могло пройти, Refund сверится с журналом
	_, err := s.ledger.Debit(ctx, session.PatientID, session.Cost, ledger.DebitReference(session.ID))
	r.debited = err == nil || !errors.Is(err, models.ErrInsufficientFunds)
	if err != nil {
		return err
	}

	unlockDoctor, err := s.lock(ctx, doctorLock(session.DoctorID))
	if err != nil {
		return err
	}
	defer unlockDoctor()

	if err := s.presence.Bind(ctx, session.DoctorID, session.ID); err != nil {
		if errors.Is(err, models.ErrAlreadyBound) {
			return fmt.Errorf("%w: %w", models.ErrDoctorUnavailable, err)
		}
		return err
	}
	r.doctorBound = true

	now := s.now()
	if err := s.repo.ActivateSession(ctx, session.ID, now); err != nil {
		return err
	}
	session.State = models.StateActive
	session.LastActivityAt = now
	return nil
}

// bindPatient закрепляет консультацию за пациентом. Привязку к уже удаленному запросу
// или распоряженной консультации, оставшуюся после сбоя отката, снимает и повторяет.
func (s *Service) bindPatient(ctx context.Context, patientID, sessionID string, log *slog.Logger) error {
	err := s.presence.BindPatient(ctx, patientID, sessionID)
	if !errors.Is(err, models.ErrPatientBusy) {
		return err
	}

	boundID, ok, lookupErr := s.presence.PatientSession(ctx, patientID)
	if lookupErr != nil {
		return lookupErr
	}
	if ok {
		bound, getErr := s.repo.GetSession(ctx, boundID)
		switch {
		case errors.Is(getErr, models.ErrSessionNotFound):
		case getErr != nil:
			return getErr
		case bound.State != models.StateDisposed:
			return err
		}
		log.Warn("clearing stale patient binding", slog.String("bound_session_id", boundID))
		if err := s.presence.UnbindPatient(ctx, patientID, boundID); err != nil {
			return err
		}
	}
	return s.presence.BindPatient(ctx, patientID, sessionID)
}

// compensate откатывает шаги в обратном порядке. Работает на отдельном контексте:
// запрос клиента к этому моменту может быть уже отменен.
func (r *requestSaga) compensate() {
	s, session := r.svc, r.session
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if r.doctorBound {
		if err := s.presence.Unbind(ctx, session.DoctorID, session.ID); err != nil {
			r.log.Error("compensation: failed to unbind doctor", sl.Err(err))
		}
	}
	if r.debited {
		refunded, err := s.ledger.Refund(ctx, session.ID)
		if err != nil {
			r.log.Error("compensation: failed to refund", sl.Err(err))
		} else if refunded {
			s.metrics.Refunds.Inc()
		}
	}
	if r.patientBound {
		if err := s.presence.UnbindPatient(ctx, session.PatientID, session.ID); err != nil {
			r.log.Error("compensation: failed to unbind patient", sl.Err(err))
		}
	}
	if _, err := s.repo.DeleteRequestedSession(ctx, session.ID); err != nil {
		r.log.Error("compensation: failed to delete request", sl.Err(err))
	}
}

func (s *Service) reject(reason string) {
	s.metrics.SessionsRejected.WithLabelValues(reason).Inc()
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, models.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, models.ErrDoctorUnavailable):
		return "doctor_unavailable"
	case errors.Is(err, models.ErrPatientBusy):
		return "patient_busy"
	default:
		return "error"
	}
}

// participantSession возвращает консультацию, если actor ее участник.
// Незавершенные запросы не видны снаружи.
func (s *Service) participantSession(ctx context.Context, actor models.Actor, sessionID string) (*models.Session, error) {
	if _, err := uuid.Parse(sessionID); err != nil {
		return nil, models.ErrSessionNotFound
	}
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.State == models.StateRequested {
		return nil, models.ErrSessionNotFound
	}
	if !session.HasParticipant(actor.UserID) {
		return nil, models.ErrForbidden
	}
	return session, nil
}

// Send добавляет сообщение в активную консультацию и публикует его в канал.
//
// messageID задает клиент для идемпотентного повтора; пустой генерируется.
// Если сообщение сохранено, но не опубликовано, возвращается и сообщение, и
// ошибка models.ErrChannelUnavailable: повтор с тем же messageID безопасен.
func (s *Service) Send(ctx context.Context, actor models.Actor, sessionID, messageID, text string) (*models.Message, error) {
	const op = "consultation.Send"
	log := s.log.With(slog.String("op", op), sl.Session(sessionID))

	if text == "" || len([]rune(text)) > MaxMessageLength {
		return nil, fmt.Errorf("%s: %w", op, models.ErrInvalidInput)
	}
	if messageID == "" {
		messageID = uuid.NewString()
	} else if _, err := uuid.Parse(messageID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, models.ErrInvalidInput)
	}

	session, err := s.participantSession(ctx, actor, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	unlock, err := s.lock(ctx, sessionLock(sessionID))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer unlock()

	msg, created, err := s.repo.AppendMessage(ctx, models.Message{
		ID:         messageID,
		SessionID:  session.ID,
		SenderRole: actor.Role,
		Text:       text,
		SentAt:     s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if created {
		s.metrics.MessagesSent.Inc()
	} else {
		// повтор уже сохраненного сообщения: после SessionEnded в канал ничего не публикуется
		current, err := s.repo.GetSession(ctx, session.ID)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if current.State != models.StateActive {
			return msg, nil
		}
	}

	if err := s.channels.PublishToSession(ctx, session.ID, models.MessageEvent{Message: *msg}); err != nil {
		log.Warn("message stored but not delivered", slog.String("message_id", msg.ID), sl.Err(err))
		return msg, fmt.Errorf("%s: %w", op, err)
	}
	return msg, nil
}

// End завершает активную консультацию по просьбе участника.
func (s *Service) End(ctx context.Context, actor models.Actor, sessionID string) (*models.Session, error) {
	const op = "consultation.End"

	session, err := s.participantSession(ctx, actor, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	ended, err := s.end(ctx, session, actor.Role, "")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return ended, nil
}

// end переводит active -> ended, освобождает врача и закрывает канал консультации.
func (s *Service) end(ctx context.Context, session *models.Session, endedBy models.Role, reason string) (*models.Session, error) {
	log := s.log.With(slog.String("op", "consultation.end"), sl.Session(session.ID))

	unlock, err := s.lock(ctx, sessionLock(session.ID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	ended, err := s.repo.EndSession(ctx, session.ID, endedBy, s.now())
	if err != nil {
		return nil, err
	}
	s.metrics.SessionsEnded.WithLabelValues(string(endedBy)).Inc()
	s.metrics.ActiveSessions.Dec()
	log.Info("consultation ended", slog.String("ended_by", string(endedBy)), slog.String("reason", reason))

	if err := s.presence.Unbind(ctx, ended.DoctorID, ended.ID); err != nil {
		log.Error("failed to unbind doctor", sl.Err(err))
	}

	endedAt := s.now()
	if ended.EndedAt != nil {
		endedAt = *ended.EndedAt
	}
	if err := s.channels.PublishToSession(ctx, ended.ID, models.SessionEndedEvent{
		SessionID: ended.ID,
		EndedBy:   endedBy,
		EndedAt:   endedAt,
		Reason:    reason,
	}); err != nil {
		log.Warn("failed to publish session end", sl.Err(err))
	}

	if err := s.lifecycle.PublishLifecycle(ctx, models.LifecycleEvent{
		Type:      models.LifecycleEnded,
		SessionID: ended.ID,
		PatientID: ended.PatientID,
		DoctorID:  ended.DoctorID,
		Cost:      ended.Cost,
		EndedBy:   endedBy,
		At:        endedAt,
	}); err != nil {
		log.Warn("failed to publish lifecycle event", sl.Err(err))
	}
	return ended, nil
}

// Dispose записывает оценку и решение пациента по завершенной консультации.
// Пустое решение трактуется как discarded.
func (s *Service) Dispose(ctx context.Context, actor models.Actor, sessionID string, rating *int, decision models.Disposition) (*models.Session, error) {
	const op = "consultation.Dispose"
	log := s.log.With(slog.String("op", op), sl.Session(sessionID))

	if decision == "" || decision == models.DispositionUnset {
		decision = models.DispositionDiscarded
	}
	if decision != models.DispositionSaved && decision != models.DispositionDiscarded {
		return nil, fmt.Errorf("%s: %w", op, models.ErrInvalidInput)
	}
	if rating != nil && (*rating < 1 || *rating > 5) {
		return nil, fmt.Errorf("%s: %w", op, models.ErrInvalidInput)
	}

	session, err := s.participantSession(ctx, actor, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if actor.UserID != session.PatientID {
		return nil, fmt.Errorf("%s: %w", op, models.ErrForbidden)
	}

	unlock, err := s.lock(ctx, sessionLock(sessionID))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer unlock()

	disposed, err := s.repo.DisposeSession(ctx, sessionID, rating, decision)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.metrics.SessionsDisposed.WithLabelValues(string(decision)).Inc()
	log.Info("consultation disposed", slog.String("decision", string(decision)))

	if err := s.presence.UnbindPatient(ctx, disposed.PatientID, disposed.ID); err != nil {
		log.Error("failed to unbind patient", sl.Err(err))
	}

	if err := s.lifecycle.PublishLifecycle(ctx, models.LifecycleEvent{
		Type:        models.LifecycleDisposed,
		SessionID:   disposed.ID,
		PatientID:   disposed.PatientID,
		DoctorID:    disposed.DoctorID,
		Cost:        disposed.Cost,
		Rating:      disposed.Rating,
		Disposition: disposed.Disposition,
		At:          s.now(),
	}); err != nil {
		log.Warn("failed to publish lifecycle event", sl.Err(err))
	}
	return disposed, nil
}

// Get возвращает консультацию участнику.
func (s *Service) Get(ctx context.Context, actor models.Actor, sessionID string) (*models.Session, error) {
	const op = "consultation.Get"
	session, err := s.participantSession(ctx, actor, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return session, nil
}

// Messages возвращает переписку консультации с seq больше afterSeq.
func (s *Service) Messages(ctx context.Context, actor models.Actor, sessionID string, afterSeq int64) ([]*models.Message, error) {
	const op = "consultation.Messages"
	if _, err := s.participantSession(ctx, actor, sessionID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	messages, err := s.repo.ListMessages(ctx, sessionID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if messages == nil {
		messages = []*models.Message{}
	}
	return messages, nil
}

// Current возвращает незакрытую консультацию пользователя, для переподключения клиента.
func (s *Service) Current(ctx context.Context, actor models.Actor) (*models.Session, error) {
	const op = "consultation.Current"
	session, err := s.repo.CurrentSessionForUser(ctx, actor.UserID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return session, nil
}

// List возвращает историю консультаций пользователя.
func (s *Service) List(ctx context.Context, actor models.Actor, limit, offset int) ([]*models.Session, error) {
	const op = "consultation.List"
	sessions, err := s.repo.ListSessionsForUser(ctx, actor.UserID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if sessions == nil {
		sessions = []*models.Session{}
	}
	return sessions, nil
}
