package consultation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/consultation-service/internal/lib/sl"
	"github.com/magabrotheeeer/consultation-service/internal/models"
	"github.com/magabrotheeeer/consultation-service/internal/services/channel"
)

// GoOnline отмечает врача доступным.
func (s *Service) GoOnline(ctx context.Context, actor models.Actor) (*models.PresenceEntry, error) {
	const op = "consultation.GoOnline"
	if actor.Role != models.RoleDoctor {
		return nil, fmt.Errorf("%s: %w", op, models.ErrForbidden)
	}
	entry, err := s.presence.GoOnline(ctx, actor.UserID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return entry, nil
}

// GoOffline снимает врача с линии. Привязанная консультация сначала завершается системой.
func (s *Service) GoOffline(ctx context.Context, actor models.Actor) error {
	const op = "consultation.GoOffline"
	log := s.log.With(slog.String("op", op), slog.String("doctor_id", actor.UserID))

	if actor.Role != models.RoleDoctor {
		return fmt.Errorf("%s: %w", op, models.ErrForbidden)
	}

	unlock, err := s.lock(ctx, doctorLock(actor.UserID))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer unlock()

	entry, err := s.presence.Get(ctx, actor.UserID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if entry != nil && entry.BoundSessionID != nil {
		s.endBound(ctx, *entry.BoundSessionID, log)
	}

	bound, err := s.presence.GoOffline(ctx, actor.UserID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	// привязка могла появиться между Get и GoOffline у другого экземпляра
	if bound != "" && (entry == nil || entry.BoundSessionID == nil || *entry.BoundSessionID != bound) {
		s.endBound(ctx, bound, log)
	}
	log.Info("doctor went offline")
	return nil
}

func (s *Service) endBound(ctx context.Context, sessionID string, log *slog.Logger) {
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		log.Error("failed to load bound session", sl.Session(sessionID), sl.Err(err))
		return
	}
	if session.State != models.StateActive {
		return
	}
	if _, err := s.end(ctx, session, models.RoleSystem, ReasonDoctorOffline); err != nil &&
		!errors.Is(err, models.ErrSessionNotActive) {
		log.Error("failed to end bound session", sl.Session(sessionID), sl.Err(err))
	}
}

// AbandonRequested откатывает запросы, застрявшие в requested дольше maxAge:
// удаляет запись, возвращает списание, снимает привязки. Возвращает число откаченных.
func (s *Service) AbandonRequested(ctx context.Context, maxAge time.Duration) (int, error) {
	const op = "consultation.AbandonRequested"
	log := s.log.With(slog.String("op", op))

	stale, err := s.repo.ListStaleRequested(ctx, s.now().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	abandoned := 0
	for _, session := range stale {
		if err := ctx.Err(); err != nil {
			return abandoned, fmt.Errorf("%s: %w", op, err)
		}
		sessionLog := log.With(sl.Session(session.ID))

		// удаление первым: активация после него уже не пройдет
		deleted, err := s.repo.DeleteRequestedSession(ctx, session.ID)
		if err != nil {
			sessionLog.Error("failed to delete stale request", sl.Err(err))
			continue
		}
		if !deleted {
			continue
		}

		refunded, err := s.ledger.Refund(ctx, session.ID)
		if err != nil {
			sessionLog.Error("failed to refund stale request", sl.Err(err))
		} else if refunded {
			s.metrics.Refunds.Inc()
		}
		if err := s.presence.Unbind(ctx, session.DoctorID, session.ID); err != nil {
			sessionLog.Error("failed to unbind doctor", sl.Err(err))
		}
		if err := s.presence.UnbindPatient(ctx, session.PatientID, session.ID); err != nil {
			sessionLog.Error("failed to unbind patient", sl.Err(err))
		}
		s.reject("abandoned")
		sessionLog.Info("stale request abandoned", slog.Bool("refunded", refunded))
		abandoned++
	}
	return abandoned, nil
}

// ExpireIdle завершает активные консультации без сообщений дольше idle.
func (s *Service) ExpireIdle(ctx context.Context, idle time.Duration) (int, error) {
	const op = "consultation.ExpireIdle"
	log := s.log.With(slog.String("op", op))

	sessions, err := s.repo.ListIdleActive(ctx, s.now().Add(-idle))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	expired := 0
	for _, session := range sessions {
		if err := ctx.Err(); err != nil {
			return expired, fmt.Errorf("%s: %w", op, err)
		}
		_, err := s.end(ctx, session, models.RoleSystem, ReasonIdleTimeout)
		if errors.Is(err, models.ErrSessionNotActive) {
			continue
		}
		if err != nil {
			log.Error("failed to expire idle session", sl.Session(session.ID), sl.Err(err))
			continue
		}
		expired++
	}
	return expired, nil
}

// Stream открывает поток событий консультации для участника.
//
// Сначала оформляется отложенная подписка, затем перечитывается состояние и догружаются
// сообщения с seq > afterSeq. Подписка запускается уже со списком выданных из истории
// сообщений, поэтому между историей и живым потоком ничего не теряется и не дублируется. Если
// консультация уже не активна, sub == nil, а последним в backlog идет SessionEnded.
func (s *Service) Stream(ctx context.Context, actor models.Actor, sessionID string, afterSeq int64) (backlog []models.Event, sub *channel.Subscription, err error) {
	const op = "consultation.Stream"

	session, err := s.participantSession(ctx, actor, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	if session.State == models.StateActive {
		sub, err = s.channels.SubscribeDeferred(ctx, channel.SessionTopic(sessionID))
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", op, err)
		}
		// консультация могла завершиться до оформления подписки
		session, err = s.repo.GetSession(ctx, sessionID)
		if err != nil {
			sub.Close()
			return nil, nil, fmt.Errorf("%s: %w", op, err)
		}
		if session.State != models.StateActive {
			sub.Close()
			sub = nil
		}
	}

	messages, err := s.repo.ListMessages(ctx, sessionID, afterSeq)
	if err != nil {
		if sub != nil {
			sub.Close()
		}
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	delivered := make([]string, 0, len(messages))
	for _, m := range messages {
		backlog = append(backlog, models.MessageEvent{Message: *m})
		delivered = append(delivered, m.ID)
	}
	if sub != nil {
		sub.Start(delivered...)
	} else {
		backlog = append(backlog, endedEvent(session))
	}
	return backlog, sub, nil
}

// DoctorEvents подписывает врача на его личный канал.
func (s *Service) DoctorEvents(ctx context.Context, actor models.Actor) (*channel.Subscription, error) {
	const op = "consultation.DoctorEvents"
	if actor.Role != models.RoleDoctor {
		return nil, fmt.Errorf("%s: %w", op, models.ErrForbidden)
	}
	sub, err := s.channels.Subscribe(ctx, channel.DoctorTopic(actor.UserID))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sub, nil
}

func endedEvent(session *models.Session) models.SessionEndedEvent {
	ev := models.SessionEndedEvent{SessionID: session.ID}
	if session.EndedBy != nil {
		ev.EndedBy = *session.EndedBy
	}
	if session.EndedAt != nil {
		ev.EndedAt = *session.EndedAt
	}
	return ev
}
