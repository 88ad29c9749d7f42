package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/magabrotheeeer/consultation-service/internal/models"
)

const sessionColumns = `id, patient_id, doctor_id, cost, state, created_at, ended_at, ended_by,
	last_activity_at, rating, disposition`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var (
		s           models.Session
		state       string
		disposition string
		endedAt     sql.NullTime
		endedBy     sql.NullString
		rating      sql.NullInt16
	)
	err := row.Scan(&s.ID, &s.PatientID, &s.DoctorID, &s.Cost, &state, &s.CreatedAt, &endedAt, &endedBy,
		&s.LastActivityAt, &rating, &disposition)
	if err != nil {
		return nil, err
	}
	s.State = models.SessionState(state)
	s.Disposition = models.Disposition(disposition)
	if endedAt.Valid {
		t := endedAt.Time
		s.EndedAt = &t
	}
	if endedBy.Valid {
		r := models.Role(endedBy.String)
		s.EndedBy = &r
	}
	if rating.Valid {
		r := int(rating.Int16)
		s.Rating = &r
	}
	return &s, nil
}

// CreateSession сохраняет консультацию в состоянии requested.
// Уникальные индексы не дают пациенту открыть вторую сессию, а врачу принять вторую живую.
func (s *Storage) CreateSession(ctx context.Context, session *models.Session) error {
	const op = "storage.CreateSession"

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO consultation_sessions
			(id, patient_id, doctor_id, cost, state, created_at, last_activity_at, disposition)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		session.ID, session.PatientID, session.DoctorID, session.Cost, string(models.StateRequested),
		session.CreatedAt, session.CreatedAt, string(models.DispositionUnset))
	switch uniqueConstraint(err) {
	case "":
	case "uq_sessions_patient_open":
		return fmt.Errorf("%s: %w", op, models.ErrPatientBusy)
	case "uq_sessions_doctor_live":
		return fmt.Errorf("%s: %w", op, models.ErrDoctorUnavailable)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ActivateSession переводит requested -> active.
func (s *Storage) ActivateSession(ctx context.Context, id string, at time.Time) error {
	const op = "storage.ActivateSession"

	res, err := s.DB.ExecContext(ctx, `
		UPDATE consultation_sessions SET state = 'active', last_activity_at = $2
		WHERE id = $1 AND state = 'requested'`, id, at)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", op, models.ErrSessionNotActive)
	}
	return nil
}

// EndSession переводит active -> ended. Проигравший в гонке получает models.ErrSessionNotActive.
func (s *Storage) EndSession(ctx context.Context, id string, endedBy models.Role, at time.Time) (*models.Session, error) {
	const op = "storage.EndSession"

	row := s.DB.QueryRowContext(ctx, `
		UPDATE consultation_sessions SET state = 'ended', ended_at = $2, ended_by = $3
		WHERE id = $1 AND state = 'active'
		RETURNING `+sessionColumns, id, at, string(endedBy))
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, models.ErrSessionNotActive)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return session, nil
}

// DeleteRequestedSession удаляет незавершённый запрос. Возвращает false, если строки уже нет
// или она успела перейти дальше requested.
func (s *Storage) DeleteRequestedSession(ctx context.Context, id string) (bool, error) {
	const op = "storage.DeleteRequestedSession"

	res, err := s.DB.ExecContext(ctx,
		`DELETE FROM consultation_sessions WHERE id = $1 AND state = 'requested'`, id)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return n > 0, nil
}

// GetSession возвращает консультацию по идентификатору, включая requested.
func (s *Storage) GetSession(ctx context.Context, id string) (*models.Session, error) {
	const op = "storage.GetSession"

	row := s.DB.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM consultation_sessions WHERE id = $1`, id)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, models.ErrSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return session, nil
}

// CurrentSessionForUser возвращает незакрытую (active или ended) консультацию пользователя.
func (s *Storage) CurrentSessionForUser(ctx context.Context, userID string) (*models.Session, error) {
	const op = "storage.CurrentSessionForUser"

	row := s.DB.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM consultation_sessions
		WHERE state IN ('active', 'ended')
		  AND (patient_id = $1 OR (doctor_id = $1 AND state = 'active'))
		ORDER BY created_at DESC
		LIMIT 1`, userID)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, models.ErrSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return session, nil
}

// ListSessionsForUser возвращает консультации пользователя, новые первыми.
func (s *Storage) ListSessionsForUser(ctx context.Context, userID string, limit, offset int) ([]*models.Session, error) {
	const op = "storage.ListSessionsForUser"

	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM consultation_sessions
		WHERE (patient_id = $1 OR doctor_id = $1) AND state <> 'requested'
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return collectSessions(op, rows)
}

// ListStaleRequested возвращает запросы, созданные раньше olderThan.
func (s *Storage) ListStaleRequested(ctx context.Context, olderThan time.Time) ([]*models.Session, error) {
	const op = "storage.ListStaleRequested"

	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM consultation_sessions
		WHERE state = 'requested' AND created_at < $1`, olderThan)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return collectSessions(op, rows)
}

// ListIdleActive возвращает активные консультации без активности с момента idleSince.
func (s *Storage) ListIdleActive(ctx context.Context, idleSince time.Time) ([]*models.Session, error) {
	const op = "storage.ListIdleActive"

	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM consultation_sessions
		WHERE state = 'active' AND last_activity_at < $1`, idleSince)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return collectSessions(op, rows)
}

// DisposeSession атомарно записывает оценку и решение, переводит ended -> disposed
// и при discarded удаляет переписку.
func (s *Storage) DisposeSession(ctx context.Context, id string, rating *int, decision models.Disposition) (*models.Session, error) {
	const op = "storage.DisposeSession"

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rollback(tx)

	var ratingArg sql.NullInt16
	if rating != nil {
		ratingArg = sql.NullInt16{Int16: int16(*rating), Valid: true}
	}

	row := tx.QueryRowContext(ctx, `
		UPDATE consultation_sessions SET state = 'disposed', rating = $2, disposition = $3
		WHERE id = $1 AND state = 'ended'
		RETURNING `+sessionColumns, id, ratingArg, string(decision))
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, models.ErrSessionNotEnded)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if decision == models.DispositionDiscarded {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM consultation_messages WHERE session_id = $1`, id); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return session, nil
}

func collectSessions(op string, rows *sql.Rows) ([]*models.Session, error) {
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}
