package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/consultation-service/internal/lib/smtp"
	"github.com/magabrotheeeer/consultation-service/internal/models"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) GetUser(ctx context.Context, id string) (*models.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

type MockTransport struct {
	mock.Mock
}

func (m *MockTransport) Connect() (smtp.Client, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(smtp.Client), args.Error(1)
}

func (m *MockTransport) GetSMTPUser() string {
	args := m.Called()
	return args.String(0)
}

type MockSMTPClient struct {
	mock.Mock
}

func (m *MockSMTPClient) Mail(from string) error {
	args := m.Called(from)
	return args.Error(0)
}

func (m *MockSMTPClient) Rcpt(to string) error {
	args := m.Called(to)
	return args.Error(0)
}

func (m *MockSMTPClient) Data() (io.WriteCloser, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.WriteCloser), args.Error(1)
}

func (m *MockSMTPClient) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockSMTPClient) Quit() error {
	args := m.Called()
	return args.Error(0)
}

type MockSMTPWriter struct {
	mock.Mock
}

func (m *MockSMTPWriter) Write(p []byte) (n int, err error) {
	args := m.Called(p)
	return args.Int(0), args.Error(1)
}

func (m *MockSMTPWriter) Close() error {
	args := m.Called()
	return args.Error(0)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func expectDelivery(t *MockTransport, to string) {
	mockClient := new(MockSMTPClient)
	mockWriter := new(MockSMTPWriter)

	t.On("GetSMTPUser").Return("sender@example.com")
	t.On("Connect").Return(mockClient, nil).Once()
	mockClient.On("Mail", "sender@example.com").Return(nil).Once()
	mockClient.On("Rcpt", to).Return(nil).Once()
	mockClient.On("Data").Return(mockWriter, nil).Once()
	mockWriter.On("Write", mock.AnythingOfType("[]uint8")).Return(100, nil).Once()
	mockWriter.On("Close").Return(nil).Once()
	mockClient.On("Quit").Return(nil).Once()
	mockClient.On("Close").Return(nil).Once()
}

var patient = &models.User{ID: "p1", Email: "patient@example.com", Name: "Anna", Role: models.RolePatient}

func TestSenderService_SendRatingReminder(t *testing.T) {
	tests := []struct {
		name          string
		body          []byte
		setupMocks    func(*MockRepository, *MockTransport)
		expectedError bool
		errorMessage  string
	}{
		{
			name: "напоминание отправлено",
			body: []byte(`{"type":"consultation.ended","session_id":"s1","patient_id":"p1","doctor_id":"d1","cost":60}`),
			setupMocks: func(r *MockRepository, t *MockTransport) {
				r.On("GetUser", mock.Anything, "p1").Return(patient, nil).Once()
				expectDelivery(t, "patient@example.com")
			},
		},
		{
			name:          "некорректный JSON",
			body:          []byte(`invalid json`),
			setupMocks:    func(*MockRepository, *MockTransport) {},
			expectedError: true,
			errorMessage:  "error unmarshalling message",
		},
		{
			name:       "чужой тип события пропускается",
			body:       []byte(`{"type":"consultation.disposed","session_id":"s1","patient_id":"p1"}`),
			setupMocks: func(*MockRepository, *MockTransport) {},
		},
		{
			name: "пациент без почты",
			body: []byte(`{"type":"consultation.ended","session_id":"s1","patient_id":"p1"}`),
			setupMocks: func(r *MockRepository, _ *MockTransport) {
				r.On("GetUser", mock.Anything, "p1").Return(&models.User{ID: "p1"}, nil).Once()
			},
		},
		{
			name: "ошибка хранилища",
			body: []byte(`{"type":"consultation.ended","session_id":"s1","patient_id":"p1"}`),
			setupMocks: func(r *MockRepository, _ *MockTransport) {
				r.On("GetUser", mock.Anything, "p1").Return(nil, errors.New("db down")).Once()
			},
			expectedError: true,
			errorMessage:  "failed to get patient: db down",
		},
		{
			name: "SMTP недоступен",
			body: []byte(`{"type":"consultation.ended","session_id":"s1","patient_id":"p1"}`),
			setupMocks: func(r *MockRepository, t *MockTransport) {
				r.On("GetUser", mock.Anything, "p1").Return(patient, nil).Once()
				t.On("GetSMTPUser").Return("sender@example.com")
				t.On("Connect").Return(nil, errors.New("connection error")).Once()
			},
			expectedError: true,
			errorMessage:  "connection error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockRepository)
			transport := new(MockTransport)
			service := NewSenderService(repo, newNoopLogger(), transport)

			tt.setupMocks(repo, transport)

			err := service.SendRatingReminder(tt.body)

			if tt.expectedError {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMessage)
			} else {
				assert.NoError(t, err)
			}

			repo.AssertExpectations(t)
			transport.AssertExpectations(t)
		})
	}
}

func TestSenderService_SendDispositionReceipt(t *testing.T) {
	repo := new(MockRepository)
	transport := new(MockTransport)
	service := NewSenderService(repo, newNoopLogger(), transport)

	repo.On("GetUser", mock.Anything, "p1").Return(patient, nil).Once()
	expectDelivery(transport, "patient@example.com")

	err := service.SendDispositionReceipt([]byte(
		`{"type":"consultation.disposed","session_id":"s1","patient_id":"p1","disposition":"saved","rating":5}`))
	assert.NoError(t, err)

	repo.AssertExpectations(t)
	transport.AssertExpectations(t)
}
