// Package directory отдает справочник врачей и таблицу цен специальностей
// с кешированием в Redis.
package directory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/consultation-service/internal/lib/sl"
	"github.com/magabrotheeeer/consultation-service/internal/models"
)

const priceTableKey = "directory:prices"

// Repository источник справочника.
type Repository interface {
	GetDoctor(ctx context.Context, id string) (*models.Doctor, error)
	ListDoctors(ctx context.Context, ids []string) ([]*models.Doctor, error)
	PriceTable(ctx context.Context) (map[string]int64, error)
}

// Cache описывает методы для кэширования данных.
type Cache interface {
	Get(ctx context.Context, key string, result any) (bool, error)
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

// Presence источник доступности врачей.
type Presence interface {
	ListAvailable(ctx context.Context) ([]string, error)
}

// Service справочник врачей.
type Service struct {
	repo     Repository
	cache    Cache
	presence Presence
	ttl      time.Duration
	log      *slog.Logger
}

// New создает новый экземпляр Service. ttl время жизни закешированной таблицы цен.
func New(repo Repository, cache Cache, presence Presence, ttl time.Duration, log *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		cache:    cache,
		presence: presence,
		ttl:      ttl,
		log:      log,
	}
}

// Prices возвращает таблицу цен специальность -> стоимость.
func (s *Service) Prices(ctx context.Context) (map[string]int64, error) {
	const op = "directory.Prices"
	log := s.log.With(slog.String("op", op))

	var table map[string]int64
	found, err := s.cache.Get(ctx, priceTableKey, &table)
	if err != nil {
		log.Warn("failed to read price table from cache", sl.Err(err))
	}
	if found {
		return table, nil
	}

	table, err = s.repo.PriceTable(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := s.cache.Set(ctx, priceTableKey, table, s.ttl); err != nil {
		log.Warn("failed to cache price table", sl.Err(err))
	}
	return table, nil
}

// Doctor возвращает врача с ценой консультации по текущей таблице цен.
func (s *Service) Doctor(ctx context.Context, id string) (*models.Doctor, error) {
	const op = "directory.Doctor"

	doctor, err := s.repo.GetDoctor(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	prices, err := s.Prices(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if price, ok := prices[doctor.Specialty]; ok {
		doctor.Price = price
	}
	return doctor, nil
}

// ListAvailable возвращает врачей онлайн без привязки к консультации.
func (s *Service) ListAvailable(ctx context.Context) ([]*models.Doctor, error) {
	const op = "directory.ListAvailable"

	ids, err := s.presence.ListAvailable(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(ids) == 0 {
		return []*models.Doctor{}, nil
	}

	doctors, err := s.repo.ListDoctors(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	prices, err := s.Prices(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	for _, d := range doctors {
		d.Online = true
		if price, ok := prices[d.Specialty]; ok {
			d.Price = price
		}
	}
	return doctors, nil
}
