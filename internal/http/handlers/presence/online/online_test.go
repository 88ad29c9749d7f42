package online

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/consultation-service/internal/http/middlewarectx"
	"github.com/magabrotheeeer/consultation-service/internal/models"
)

type ServiceMock struct {
	mock.Mock
}

func (m *ServiceMock) GoOnline(ctx context.Context, actor models.Actor) (*models.PresenceEntry, error) {
	args := m.Called(ctx, actor)
	e, _ := args.Get(0).(*models.PresenceEntry)
	return e, args.Error(1)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func TestOnlineHandler_ServeHTTP(t *testing.T) {
	doctor := models.Actor{UserID: "d-1", Role: models.RoleDoctor}

	tests := []struct {
		name     string
		entry    *models.PresenceEntry
		err      error
		wantCode int
	}{
		{"врач онлайн", &models.PresenceEntry{DoctorID: "d-1", Online: true}, nil, http.StatusOK},
		{"redis недоступен", nil, errors.New("dial tcp: refused"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(ServiceMock)
			svc.On("GoOnline", mock.Anything, doctor).Return(tt.entry, tt.err).Once()

			req := httptest.NewRequest(http.MethodPost, "/presence/online", nil)
			ctx := context.WithValue(req.Context(), middlewarectx.User, doctor.UserID)
			ctx = context.WithValue(ctx, middlewarectx.Role, doctor.Role)
			rec := httptest.NewRecorder()

			New(newNoopLogger(), svc).ServeHTTP(rec, req.WithContext(ctx))

			assert.Equal(t, tt.wantCode, rec.Code)
			var got map[string]any
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
			if tt.err == nil {
				data := got["data"].(map[string]any)
				assert.Equal(t, true, data["online"])
			} else {
				assert.Equal(t, "internal error", got["error"])
			}
			svc.AssertExpectations(t)
		})
	}
}
