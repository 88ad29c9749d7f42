// Package services содержит рассыльщик писем о жизненном цикле консультаций.
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/magabrotheeeer/consultation-service/internal/lib/sl"
	"github.com/magabrotheeeer/consultation-service/internal/lib/smtp"
	"github.com/magabrotheeeer/consultation-service/internal/models"
)

const lookupTimeout = 5 * time.Second

// UserRepository источник адресов пациентов.
type UserRepository interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
}

// SenderService отправляет пациентам письма по событиям консультаций.
type SenderService struct {
	repo      UserRepository
	transport smtp.TransportInterface
	log       *slog.Logger
}

// NewSenderService создает новый экземпляр SenderService.
func NewSenderService(repo UserRepository, log *slog.Logger, transport smtp.TransportInterface) *SenderService {
	return &SenderService{
		repo:      repo,
		transport: transport,
		log:       log,
	}
}

// SendRatingReminder напоминает пациенту оценить завершенную консультацию
// и решить судьбу переписки.
func (s *SenderService) SendRatingReminder(body []byte) error {
	event, patient, err := s.decode(body, models.LifecycleEnded)
	if err != nil || patient == nil {
		return err
	}

	subject := "Оцените консультацию"
	bodyText := fmt.Sprintf("Здравствуйте, %s!\n\n"+
		"Ваша консультация %s завершена.\n"+
		"Пожалуйста, поставьте оценку врачу и решите, сохранить переписку или удалить её.\n"+
		"Пока решение не принято, новую консультацию начать нельзя.",
		patient.Name, event.SessionID)

	return s.sendEmail([]string{patient.Email}, subject, bodyText)
}

// SendDispositionReceipt подтверждает пациенту сохранение или удаление переписки.
func (s *SenderService) SendDispositionReceipt(body []byte) error {
	event, patient, err := s.decode(body, models.LifecycleDisposed)
	if err != nil || patient == nil {
		return err
	}

	subject := "Консультация закрыта"
	outcome := "Переписка удалена без возможности восстановления."
	if event.Disposition == models.DispositionSaved {
		outcome = "Переписка сохранена и доступна в истории консультаций."
	}
	bodyText := fmt.Sprintf("Здравствуйте, %s!\n\nКонсультация %s закрыта. %s",
		patient.Name, event.SessionID, outcome)

	return s.sendEmail([]string{patient.Email}, subject, bodyText)
}

// decode разбирает событие и находит пациента. patient == nil без ошибки: письмо не нужно.
func (s *SenderService) decode(body []byte, wantType string) (*models.LifecycleEvent, *models.User, error) {
	var event models.LifecycleEvent
	if err := json.Unmarshal(body, &event); err != nil {
		s.log.Error("Failed to unmarshal message body", sl.Err(err))
		return nil, nil, fmt.Errorf("error unmarshalling message: %w", err)
	}
	log := s.log.With(sl.Session(event.SessionID))
	if event.Type != wantType {
		log.Warn("unexpected event type", slog.String("type", event.Type))
		return nil, nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()
	patient, err := s.repo.GetUser(ctx, event.PatientID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get patient: %w", err)
	}
	if patient.Email == "" {
		log.Info("patient has no email, skipping")
		return nil, nil, nil
	}
	return &event, patient, nil
}

func (s *SenderService) sendEmail(to []string, subject, bodyText string) error {
	msg := strings.Join([]string{
		"From: " + s.transport.GetSMTPUser(),
		"To: " + strings.Join(to, ";"),
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=\"UTF-8\"",
		"",
		bodyText,
	}, "\r\n")

	client, err := s.transport.Connect()
	if err != nil {
		s.log.Error("Failed to connect to SMTP server", sl.Err(err))
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	if err := client.Mail(s.transport.GetSMTPUser()); err != nil {
		s.log.Error("Failed to set MAIL FROM", "from", s.transport.GetSMTPUser(), sl.Err(err))
		return err
	}

	for _, addr := range to {
		if err := client.Rcpt(addr); err != nil {
			s.log.Error("Failed to set RCPT TO", "recipient", addr, sl.Err(err))
			return err
		}
	}

	wc, err := client.Data()
	if err != nil {
		s.log.Error("Failed to get Data writer", sl.Err(err))
		return err
	}

	if _, err = wc.Write([]byte(msg)); err != nil {
		s.log.Error("Failed to write email body", sl.Err(err))
		return err
	}

	if err = wc.Close(); err != nil {
		s.log.Error("Failed to close Data writer", sl.Err(err))
		return err
	}

	if err = client.Quit(); err != nil {
		s.log.Error("Failed to quit SMTP client", sl.Err(err))
		return err
	}

	s.log.Info("email sent successfully", "to", to)
	return nil
}
