// Package ledger ведет баланс пациентов в jewel: списание за консультацию,
// идемпотентный возврат и пополнение по платежу.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/magabrotheeeer/consultation-service/internal/lib/keylock"
	"github.com/magabrotheeeer/consultation-service/internal/lib/sl"
	"github.com/magabrotheeeer/consultation-service/internal/models"
)

// Repository хранилище баланса и журнала операций.
type Repository interface {
	// Debit атомарно списывает amount, возвращает models.ErrInsufficientFunds без изменений баланса.
	Debit(ctx context.Context, userID string, amount int64, reference string) (int64, error)
	// Credit зачисляет amount, повтор reference возвращает models.ErrDuplicateReference.
	Credit(ctx context.Context, userID string, amount int64, reference string) (int64, error)
	// EntryAmount ищет запись журнала по reference.
	EntryAmount(ctx context.Context, reference string) (userID string, amount int64, found bool, err error)
	// Balance возвращает текущий баланс.
	Balance(ctx context.Context, userID string) (int64, error)
}

// Service сериализует операции с балансом по пользователю.
type Service struct {
	repo  Repository
	locks *keylock.Locker
	log   *slog.Logger
}

// New создает новый экземпляр Service.
func New(repo Repository, log *slog.Logger) *Service {
	return &Service{
		repo:  repo,
		locks: keylock.New(),
		log:   log,
	}
}

// DebitReference ссылка журнала для списания за консультацию.
func DebitReference(sessionID string) string {
	return "session:" + sessionID + ":debit"
}

// RefundReference ссылка журнала для возврата за консультацию.
func RefundReference(sessionID string) string {
	return "session:" + sessionID + ":refund"
}

// PaymentReference ссылка журнала для пополнения по платежу.
func PaymentReference(paymentID string) string {
	return "payment:" + paymentID
}

// Debit списывает amount с баланса userID. Списания не повторяются при ошибке.
func (s *Service) Debit(ctx context.Context, userID string, amount int64, reference string) (int64, error) {
	const op = "ledger.Debit"
	if amount < 0 {
		return 0, fmt.Errorf("%s: %w", op, models.ErrInvalidInput)
	}

	unlock, err := s.locks.Lock(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	defer unlock()

	balance, err := s.repo.Debit(ctx, userID, amount, reference)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("balance debited",
		slog.String("op", op),
		slog.String("user_id", userID),
		slog.Int64("amount", amount),
		slog.Int64("balance", balance))
	return balance, nil
}

// Credit зачисляет amount на баланс userID.
func (s *Service) Credit(ctx context.Context, userID string, amount int64, reference string) (int64, error) {
	const op = "ledger.Credit"
	if amount < 0 {
		return 0, fmt.Errorf("%s: %w", op, models.ErrInvalidInput)
	}

	unlock, err := s.locks.Lock(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	defer unlock()

	balance, err := s.repo.Credit(ctx, userID, amount, reference)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return balance, nil
}

// Refund возвращает списание за консультацию sessionID.
// Если списания не было или возврат уже сделан, возвращает false без ошибки.
func (s *Service) Refund(ctx context.Context, sessionID string) (bool, error) {
	const op = "ledger.Refund"
	log := s.log.With(slog.String("op", op), sl.Session(sessionID))

	userID, amount, found, err := s.repo.EntryAmount(ctx, DebitReference(sessionID))
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if !found {
		log.Debug("no debit to refund")
		return false, nil
	}

	_, err = s.Credit(ctx, userID, -amount, RefundReference(sessionID))
	if errors.Is(err, models.ErrDuplicateReference) {
		log.Debug("already refunded")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	log.Info("debit refunded", slog.String("user_id", userID), slog.Int64("amount", -amount))
	return true, nil
}

// TopUp зачисляет оплаченный платеж. Повтор того же paymentID не меняет баланс, duplicate=true.
func (s *Service) TopUp(ctx context.Context, paymentID, userID string, amount int64) (balance int64, duplicate bool, err error) {
	const op = "ledger.TopUp"
	if paymentID == "" || amount <= 0 {
		return 0, false, fmt.Errorf("%s: %w", op, models.ErrInvalidInput)
	}

	balance, err = s.Credit(ctx, userID, amount, PaymentReference(paymentID))
	if errors.Is(err, models.ErrDuplicateReference) {
		balance, err = s.repo.Balance(ctx, userID)
		if err != nil {
			return 0, false, fmt.Errorf("%s: %w", op, err)
		}
		return balance, true, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", op, err)
	}
	return balance, false, nil
}

// Balance возвращает текущий баланс пользователя.
func (s *Service) Balance(ctx context.Context, userID string) (int64, error) {
	const op = "ledger.Balance"
	balance, err := s.repo.Balance(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return balance, nil
}
