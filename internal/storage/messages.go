package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/magabrotheeeer/consultation-service/internal/models"
)

// AppendMessage добавляет сообщение в активную консультацию и назначает ему seq.
//
// Строка консультации блокируется FOR UPDATE, поэтому seq строго возрастает, а гонка с End
// разрешается в пользу того, кто первым взял блокировку. Повтор с тем же msg.ID возвращает
// уже сохранённое сообщение и created=false.
func (s *Storage) AppendMessage(ctx context.Context, msg models.Message) (*models.Message, bool, error) {
	const op = "storage.AppendMessage"

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	defer rollback(tx)

	var state string
	err = tx.QueryRowContext(ctx,
		`SELECT state FROM consultation_sessions WHERE id = $1 FOR UPDATE`, msg.SessionID).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("%s: %w", op, models.ErrSessionNotFound)
	}
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}

	existing, err := scanMessage(tx.QueryRowContext(ctx, `
		SELECT id, session_id, seq, sender_role, text, sent_at
		FROM consultation_messages WHERE id = $1 AND session_id = $2`, msg.ID, msg.SessionID))
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}

	if models.SessionState(state) != models.StateActive {
		return nil, false, fmt.Errorf("%s: %w", op, models.ErrSessionNotActive)
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO consultation_messages (id, session_id, seq, sender_role, text, sent_at)
		SELECT $1::uuid, $2::uuid, COALESCE(MAX(seq), 0) + 1, $3::text, $4::text, $5::timestamptz
		FROM consultation_messages WHERE session_id = $2
		RETURNING seq`, msg.ID, msg.SessionID, string(msg.SenderRole), msg.Text, msg.SentAt).Scan(&msg.Seq)
	if uniqueConstraint(err) == "consultation_messages_pkey" {
		// ID уже занят сообщением другой консультации
		return nil, false, fmt.Errorf("%s: %w", op, models.ErrInvalidInput)
	}
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE consultation_sessions SET last_activity_at = $2 WHERE id = $1`, msg.SessionID, msg.SentAt); err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	return &msg, true, nil
}

// ListMessages возвращает сообщения консультации с seq больше afterSeq в порядке seq.
func (s *Storage) ListMessages(ctx context.Context, sessionID string, afterSeq int64) ([]*models.Message, error) {
	const op = "storage.ListMessages"

	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, session_id, seq, sender_role, text, sent_at
		FROM consultation_messages
		WHERE session_id = $1 AND seq > $2
		ORDER BY seq`, sessionID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

func scanMessage(row rowScanner) (*models.Message, error) {
	var (
		m    models.Message
		role string
	)
	if err := row.Scan(&m.ID, &m.SessionID, &m.Seq, &role, &m.Text, &m.SentAt); err != nil {
		return nil, err
	}
	m.SenderRole = models.Role(role)
	return &m, nil
}
