package dispose

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/consultation-service/internal/http/middlewarectx"
	"github.com/magabrotheeeer/consultation-service/internal/models"
)

type ServiceMock struct {
	mock.Mock
}

func (m *ServiceMock) Dispose(ctx context.Context, actor models.Actor, sessionID string, rating *int, decision models.Disposition) (*models.Session, error) {
	args := m.Called(ctx, actor, sessionID, rating, decision)
	s, _ := args.Get(0).(*models.Session)
	return s, args.Error(1)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func intPtr(v int) *int { return &v }

func TestDisposeHandler_ServeHTTP(t *testing.T) {
	patient := models.Actor{UserID: uuid.NewString(), Role: models.RolePatient}
	sessionID := uuid.NewString()

	tests := []struct {
		name         string
		body         string
		wantRating   *int
		wantDecision models.Disposition
		mockResult   *models.Session
		mockErr      error
		callMock     bool
		wantCode     int
		wantError    string
	}{
		{
			name:         "оценка и сохранение",
			body:         `{"rating":5,"decision":"saved"}`,
			wantRating:   intPtr(5),
			wantDecision: models.DispositionSaved,
			mockResult:   &models.Session{ID: sessionID, State: models.StateDisposed, Disposition: models.DispositionSaved, Rating: intPtr(5)},
			callMock:     true,
			wantCode:     http.StatusOK,
		},
		{
			name:         "без оценки и решения",
			body:         `{}`,
			wantDecision: "",
			mockResult:   &models.Session{ID: sessionID, State: models.StateDisposed, Disposition: models.DispositionDiscarded},
			callMock:     true,
			wantCode:     http.StatusOK,
		},
		{
			name:      "оценка вне диапазона",
			body:      `{"rating":6,"decision":"saved"}`,
			wantCode:  http.StatusUnprocessableEntity,
			wantError: "field Rating must satisfy max=5",
		},
		{
			name:      "неизвестное решение",
			body:      `{"decision":"archive"}`,
			wantCode:  http.StatusUnprocessableEntity,
			wantError: "field Decision must be one of: saved discarded",
		},
		{
			name:         "консультация ещё активна",
			body:         `{"decision":"discarded"}`,
			wantDecision: models.DispositionDiscarded,
			mockErr:      models.ErrSessionNotEnded,
			callMock:     true,
			wantCode:     http.StatusConflict,
			wantError:    "session not ended",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(ServiceMock)
			if tt.callMock {
				svc.On("Dispose", mock.Anything, patient, sessionID, tt.wantRating, tt.wantDecision).Return(tt.mockResult, tt.mockErr).Once()
			}
			handler := New(newNoopLogger(), svc)

			req := httptest.NewRequest(http.MethodPost, "/consultations/"+sessionID+"/dispose", bytes.NewBufferString(tt.body))
			rctx := chi.NewRouteContext()
			rctx.URLParams.Add("id", sessionID)
			ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
			ctx = context.WithValue(ctx, middlewarectx.User, patient.UserID)
			ctx = context.WithValue(ctx, middlewarectx.Role, patient.Role)
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req.WithContext(ctx))

			assert.Equal(t, tt.wantCode, rec.Code)
			var got map[string]any
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
			if tt.wantError != "" {
				assert.Equal(t, tt.wantError, got["error"])
			} else {
				assert.Equal(t, "OK", got["status"])
			}
			svc.AssertExpectations(t)
		})
	}
}
