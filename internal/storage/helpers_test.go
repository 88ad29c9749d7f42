package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/magabrotheeeer/consultation-service/internal/migrations"
	"github.com/magabrotheeeer/consultation-service/internal/models"
)

// TestDataFactory содержит методы для создания тестовых данных
type TestDataFactory struct {
	storage *Storage
}

// NewTestDataFactory создает новую фабрику тестовых данных
func NewTestDataFactory(storage *Storage) *TestDataFactory {
	return &TestDataFactory{storage: storage}
}

// CreatePatient создает пациента с заданным балансом
func (f *TestDataFactory) CreatePatient(t *testing.T, balance int64) string {
	t.Helper()
	id := uuid.NewString()
	_, err := f.storage.DB.Exec(`INSERT INTO users (id, email, name, role, balance)
		VALUES ($1, $2, $3, 'patient', $4)`, id, id+"@example.com", "patient", balance)
	require.NoError(t, err)
	return id
}

// CreateDoctor создает врача указанной специальности
func (f *TestDataFactory) CreateDoctor(t *testing.T, name, specialty string) string {
	t.Helper()
	id := uuid.NewString()
	_, err := f.storage.DB.Exec(`INSERT INTO users (id, email, name, role, specialty)
		VALUES ($1, $2, $3, 'doctor', $4)`, id, id+"@example.com", name, specialty)
	require.NoError(t, err)
	return id
}

// CreateActiveSession создает консультацию и сразу активирует ее
func (f *TestDataFactory) CreateActiveSession(t *testing.T, patientID, doctorID string, cost int64) *models.Session {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	session := &models.Session{
		ID:        uuid.NewString(),
		PatientID: patientID,
		DoctorID:  doctorID,
		Cost:      cost,
		CreatedAt: now,
	}
	require.NoError(t, f.storage.CreateSession(ctx, session))
	require.NoError(t, f.storage.ActivateSession(ctx, session.ID, now))
	session.State = models.StateActive
	return session
}

// setupTestDatabase поднимает PostgreSQL в контейнере и накатывает миграции
func setupTestDatabase(t *testing.T) (*Storage, func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test requires docker")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		),
	)
	require.NoError(t, err, "failed to start container")

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	// Пробуем подключиться несколько раз с ретраями
	var storage *Storage
	for range 10 {
		storage, err = New(connStr)
		if err == nil {
			break
		}
		time.Sleep(time.Second)
	}
	require.NoError(t, err, "failed to create storage after retries")

	migrationsPath, err := filepath.Abs("../../migrations")
	require.NoError(t, err)
	require.NoError(t, migrations.Run(storage.DB, migrationsPath))

	cleanup := func() {
		if storage != nil && storage.DB != nil {
			_ = storage.DB.Close()
		}
		_ = pgContainer.Terminate(ctx)
	}

	return storage, cleanup
}
