package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/magabrotheeeer/consultation-service/internal/models"
)

// Debit списывает amount с баланса пациента и пишет запись журнала с reference.
// Списание атомарно: строка пользователя блокируется UPDATE, проверка остатка
// выполняется в том же выражении.
func (s *Storage) Debit(ctx context.Context, userID string, amount int64, reference string) (int64, error) {
	const op = "storage.Debit"

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	defer rollback(tx)

	var balance int64
	err = tx.QueryRowContext(ctx, `
		UPDATE users SET balance = balance - $2
		WHERE id = $1 AND balance >= $2
		RETURNING balance`, userID, amount).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := s.balanceTx(ctx, tx, userID); err != nil {
			return 0, fmt.Errorf("%s: %w", op, err)
		}
		return 0, models.ErrInsufficientFunds
	}
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	if err := insertEntry(ctx, tx, userID, -amount, reference, balance); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return balance, nil
}

// Credit зачисляет amount на баланс. Повтор с тем же reference не меняет баланс
// и возвращает models.ErrDuplicateReference.
func (s *Storage) Credit(ctx context.Context, userID string, amount int64, reference string) (int64, error) {
	const op = "storage.Credit"

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	defer rollback(tx)

	var balance int64
	err = tx.QueryRowContext(ctx, `
		UPDATE users SET balance = balance + $2
		WHERE id = $1
		RETURNING balance`, userID, amount).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%s: %w", op, models.ErrUserNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	if err := insertEntry(ctx, tx, userID, amount, reference, balance); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return balance, nil
}

// EntryAmount возвращает сумму записи журнала по reference. found=false: записи нет.
func (s *Storage) EntryAmount(ctx context.Context, reference string) (string, int64, bool, error) {
	const op = "storage.EntryAmount"

	var (
		userID string
		amount int64
	)
	err := s.DB.QueryRowContext(ctx,
		`SELECT user_id, amount FROM ledger_entries WHERE reference = $1`, reference).Scan(&userID, &amount)
	if errors.Is(err, sql.ErrNoRows) {
		return "", 0, false, nil
	}
	if err != nil {
		return "", 0, false, fmt.Errorf("%s: %w", op, err)
	}
	return userID, amount, true, nil
}

// Balance возвращает текущий баланс пользователя.
func (s *Storage) Balance(ctx context.Context, userID string) (int64, error) {
	const op = "storage.Balance"
	tx, err := s.DB.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	defer rollback(tx)

	balance, err := s.balanceTx(ctx, tx, userID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return balance, nil
}

func (s *Storage) balanceTx(ctx context.Context, tx *sql.Tx, userID string) (int64, error) {
	var balance int64
	err := tx.QueryRowContext(ctx, `SELECT balance FROM users WHERE id = $1`, userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, models.ErrUserNotFound
	}
	return balance, err
}

func insertEntry(ctx context.Context, tx *sql.Tx, userID string, amount int64, reference string, balanceAfter int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (user_id, amount, reference, balance_after)
		VALUES ($1, $2, $3, $4)`, userID, amount, reference, balanceAfter)
	if uniqueConstraint(err) != "" {
		return models.ErrDuplicateReference
	}
	return err
}
