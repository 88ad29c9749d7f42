package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/magabrotheeeer/consultation-service/internal/models"
)

// GetUser возвращает пользователя по идентификатору.
func (s *Storage) GetUser(ctx context.Context, id string) (*models.User, error) {
	const op = "storage.GetUser"

	var (
		u         models.User
		role      string
		specialty sql.NullString
	)
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, email, name, role, balance, specialty
		FROM users WHERE id = $1`, id).Scan(&u.ID, &u.Email, &u.Name, &role, &u.Balance, &specialty)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, models.ErrUserNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	u.Role = models.Role(role)
	u.Specialty = specialty.String
	return &u, nil
}

// GetDoctor возвращает врача вместе с ценой его специальности.
func (s *Storage) GetDoctor(ctx context.Context, id string) (*models.Doctor, error) {
	const op = "storage.GetDoctor"

	var d models.Doctor
	err := s.DB.QueryRowContext(ctx, `
		SELECT u.id, u.name, u.specialty, p.price
		FROM users u
		JOIN specialty_prices p ON p.specialty = u.specialty
		WHERE u.id = $1 AND u.role = 'doctor'`, id).Scan(&d.ID, &d.Name, &d.Specialty, &d.Price)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, models.ErrDoctorNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &d, nil
}

// ListDoctors возвращает врачей с ценами по специальностям.
func (s *Storage) ListDoctors(ctx context.Context, ids []string) ([]*models.Doctor, error) {
	const op = "storage.ListDoctors"
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT u.id, u.name, u.specialty, p.price
		FROM users u
		JOIN specialty_prices p ON p.specialty = u.specialty
		WHERE u.role = 'doctor' AND u.id::text = ANY($1)
		ORDER BY u.name, u.id`, ids)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.Doctor
	for rows.Next() {
		var d models.Doctor
		if err := rows.Scan(&d.ID, &d.Name, &d.Specialty, &d.Price); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// PriceTable возвращает таблицу цен специальность -> стоимость.
func (s *Storage) PriceTable(ctx context.Context) (map[string]int64, error) {
	const op = "storage.PriceTable"

	rows, err := s.DB.QueryContext(ctx, `SELECT specialty, price FROM specialty_prices`)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	table := make(map[string]int64)
	for rows.Next() {
		var (
			specialty string
			price     int64
		)
		if err := rows.Scan(&specialty, &price); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		table[specialty] = price
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return table, nil
}
