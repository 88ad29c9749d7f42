package consultation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/consultation-service/internal/metrics"
	"github.com/magabrotheeeer/consultation-service/internal/models"
	"github.com/magabrotheeeer/consultation-service/internal/services/channel"
	"github.com/magabrotheeeer/consultation-service/internal/services/ledger"
	"github.com/magabrotheeeer/consultation-service/internal/services/presence"
)

type flakyChannels struct {
	*channel.Router
	failing atomic.Bool
}

func (f *flakyChannels) PublishToSession(ctx context.Context, sessionID string, event models.Event) error {
	if f.failing.Load() {
		return models.ErrChannelUnavailable
	}
	return f.Router.PublishToSession(ctx, sessionID, event)
}

type bindFailPresence struct {
	*presence.Registry
}

func (bindFailPresence) Bind(context.Context, string, string) error {
	return models.ErrAlreadyBound
}

type testEnv struct {
	svc       *Service
	repo      *memRepo
	presence  *presence.Registry
	channels  *flakyChannels
	transport *channel.MemoryTransport
	lifecycle *recordingPublisher
	metrics   *metrics.Metrics
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := newMemRepo()
	m := metrics.NewNop()
	transport := channel.NewMemoryTransport()
	env := &testEnv{
		repo:      repo,
		presence:  presence.New(client, log),
		channels:  &flakyChannels{Router: channel.NewRouter(transport, m, log)},
		transport: transport,
		lifecycle: &recordingPublisher{},
		metrics:   m,
	}
	env.svc = New(Deps{
		Repo:      repo,
		Ledger:    ledger.New(repo, log),
		Presence:  env.presence,
		Directory: repo,
		Channels:  env.channels,
		Lifecycle: env.lifecycle,
		Metrics:   m,
	}, log)
	return env
}

func (e *testEnv) patient(balance int64) models.Actor {
	id := uuid.NewString()
	e.repo.mu.Lock()
	e.repo.balances[id] = balance
	e.repo.mu.Unlock()
	return models.Actor{UserID: id, Role: models.RolePatient}
}

func (e *testEnv) onlineDoctor(t *testing.T, specialty string, price int64) models.Actor {
	t.Helper()
	id := uuid.NewString()
	e.repo.mu.Lock()
	e.repo.doctors[id] = &models.Doctor{ID: id, Name: "Dr " + specialty, Specialty: specialty, Price: price}
	e.repo.mu.Unlock()
	doctor := models.Actor{UserID: id, Role: models.RoleDoctor}
	_, err := e.svc.GoOnline(context.Background(), doctor)
	require.NoError(t, err)
	return doctor
}

func (e *testEnv) available(t *testing.T, doctorID string) bool {
	t.Helper()
	entry, err := e.presence.Get(context.Background(), doctorID)
	require.NoError(t, err)
	return entry != nil && entry.Available()
}

func next(t *testing.T, sub *channel.Subscription) (models.Event, bool) {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		return ev, ok
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil, false
	}
}

// Пациент с балансом 60 и кардиолог за 60: полный цикл консультации.
func TestService_HappyPath(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	patient := env.patient(60)
	doctor := env.onlineDoctor(t, "cardiology", 60)

	doctorFeed, err := env.svc.DoctorEvents(ctx, doctor)
	require.NoError(t, err)
	defer doctorFeed.Close()

	session, err := env.svc.Request(ctx, patient, doctor.UserID)
	require.NoError(t, err)
	assert.Equal(t, models.StateActive, session.State)
	assert.Equal(t, int64(60), session.Cost)
	assert.Equal(t, int64(0), env.repo.balance(patient.UserID))
	assert.False(t, env.available(t, doctor.UserID))

	ev, ok := next(t, doctorFeed)
	require.True(t, ok)
	started, isStarted := ev.(models.SessionStartedEvent)
	require.True(t, isStarted)
	assert.Equal(t, session.ID, started.SessionID)

	backlog, sub, err := env.svc.Stream(ctx, doctor, session.ID, 0)
	require.NoError(t, err)
	require.NotNil(t, sub)
	defer sub.Close()
	assert.Empty(t, backlog)

	_, err = env.svc.Send(ctx, patient, session.ID, "", "hello")
	require.NoError(t, err)
	_, err = env.svc.Send(ctx, doctor, session.ID, "", "hi, how can I help?")
	require.NoError(t, err)

	for _, want := range []string{"hello", "hi, how can I help?"} {
		ev, ok := next(t, sub)
		require.True(t, ok)
		assert.Equal(t, want, ev.(models.MessageEvent).Message.Text)
	}

	ended, err := env.svc.End(ctx, doctor, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateEnded, ended.State)
	assert.True(t, env.available(t, doctor.UserID), "doctor is unbound on end")

	ev, ok = next(t, sub)
	require.True(t, ok)
	endEvent, isEnd := ev.(models.SessionEndedEvent)
	require.True(t, isEnd)
	assert.Equal(t, models.RoleDoctor, endEvent.EndedBy)
	_, ok = next(t, sub)
	assert.False(t, ok)

	_, err = env.svc.Send(ctx, patient, session.ID, "", "one more thing")
	require.ErrorIs(t, err, models.ErrSessionNotActive)

	rating := 5
	disposed, err := env.svc.Dispose(ctx, patient, session.ID, &rating, models.DispositionSaved)
	require.NoError(t, err)
	assert.Equal(t, models.StateDisposed, disposed.State)
	assert.Equal(t, models.DispositionSaved, disposed.Disposition)

	messages, err := env.svc.Messages(ctx, patient, session.ID, 0)
	require.NoError(t, err)
	assert.Len(t, messages, 2, "saved transcript is retained")

	assert.Equal(t, []string{models.LifecycleEnded, models.LifecycleDisposed}, env.lifecycle.types())
}

// Пациент с балансом 30 и кардиолог за 60: отказ, консультация не создается.
func TestService_InsufficientFunds(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	patient := env.patient(30)
	doctor := env.onlineDoctor(t, "cardiology", 60)

	_, err := env.svc.Request(ctx, patient, doctor.UserID)
	require.ErrorIs(t, err, models.ErrInsufficientFunds)

	assert.Equal(t, int64(30), env.repo.balance(patient.UserID))
	assert.Equal(t, 0, env.repo.sessionCount())
	assert.True(t, env.available(t, doctor.UserID))

	_, bound, err := env.presence.PatientSession(ctx, patient.UserID)
	require.NoError(t, err)
	assert.False(t, bound)

	_, err = env.svc.Current(ctx, patient)
	require.ErrorIs(t, err, models.ErrSessionNotFound)
}

func TestService_RequestValidation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	patient := env.patient(100)
	doctor := env.onlineDoctor(t, "general", 20)

	_, err := env.svc.Request(ctx, doctor, doctor.UserID)
	require.ErrorIs(t, err, models.ErrForbidden)

	_, err = env.svc.Request(ctx, patient, uuid.NewString())
	require.ErrorIs(t, err, models.ErrDoctorNotFound)

	require.NoError(t, env.svc.GoOffline(ctx, doctor))
	_, err = env.svc.Request(ctx, patient, doctor.UserID)
	require.ErrorIs(t, err, models.ErrDoctorUnavailable)
	assert.Equal(t, int64(100), env.repo.balance(patient.UserID))
}

// Ни одна гонка не списывает дважды и не привязывает врача к двум консультациям.
func TestService_ConcurrentRequests(t *testing.T) {
	ctx := context.Background()

	t.Run("один пациент, два врача", func(t *testing.T) {
		env := newTestEnv(t)
		patient := env.patient(60)
		d1 := env.onlineDoctor(t, "cardiology", 60)
		d2 := env.onlineDoctor(t, "neurology", 60)

		var (
			wg        sync.WaitGroup
			succeeded atomic.Int32
		)
		for _, d := range []models.Actor{d1, d2, d1, d2} {
			wg.Add(1)
			go func(doctorID string) {
				defer wg.Done()
				if _, err := env.svc.Request(ctx, patient, doctorID); err == nil {
					succeeded.Add(1)
				}
			}(d.UserID)
		}
		wg.Wait()

		assert.Equal(t, int32(1), succeeded.Load())
		assert.Equal(t, int64(0), env.repo.balance(patient.UserID))
		assert.Equal(t, 1, env.repo.sessionCount())
	})

	t.Run("много пациентов, один врач", func(t *testing.T) {
		env := newTestEnv(t)
		doctor := env.onlineDoctor(t, "general", 20)
		patients := make([]models.Actor, 10)
		for i := range patients {
			patients[i] = env.patient(20)
		}

		var (
			wg        sync.WaitGroup
			succeeded atomic.Int32
		)
		for _, p := range patients {
			wg.Add(1)
			go func(p models.Actor) {
				defer wg.Done()
				if _, err := env.svc.Request(ctx, p, doctor.UserID); err == nil {
					succeeded.Add(1)
				}
			}(p)
		}
		wg.Wait()

		assert.Equal(t, int32(1), succeeded.Load())
		var total int64
		for _, p := range patients {
			total += env.repo.balance(p.UserID)
		}
		assert.Equal(t, int64(9*20), total, "losers are not charged")
	})
}

func TestService_RefundWhenBindFails(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	patient := env.patient(60)
	doctor := env.onlineDoctor(t, "cardiology", 60)
	env.svc.presence = bindFailPresence{Registry: env.presence}

	_, err := env.svc.Request(ctx, patient, doctor.UserID)
	require.ErrorIs(t, err, models.ErrDoctorUnavailable)

	assert.Equal(t, int64(60), env.repo.balance(patient.UserID), "debit is refunded")
	assert.Equal(t, 0, env.repo.sessionCount())
	_, bound, err := env.presence.PatientSession(ctx, patient.UserID)
	require.NoError(t, err)
	assert.False(t, bound)
}

func TestService_MessageOrdering(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	patient := env.patient(20)
	doctor := env.onlineDoctor(t, "general", 20)
	session, err := env.svc.Request(ctx, patient, doctor.UserID)
	require.NoError(t, err)

	_, sub, err := env.svc.Stream(ctx, patient, session.ID, 0)
	require.NoError(t, err)
	defer sub.Close()

	const total = 40
	var wg sync.WaitGroup
	for i := range total {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sender := patient
			if i%2 == 0 {
				sender = doctor
			}
			_, err := env.svc.Send(ctx, sender, session.ID, "", "msg")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	for want := int64(1); want <= total; want++ {
		ev, ok := next(t, sub)
		require.True(t, ok)
		assert.Equal(t, want, ev.(models.MessageEvent).Message.Seq)
	}
}

func TestService_SendIdempotentRetry(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	patient := env.patient(20)
	doctor := env.onlineDoctor(t, "general", 20)
	session, err := env.svc.Request(ctx, patient, doctor.UserID)
	require.NoError(t, err)

	_, sub, err := env.svc.Stream(ctx, doctor, session.ID, 0)
	require.NoError(t, err)
	defer sub.Close()

	msgID := uuid.NewString()
	env.channels.failing.Store(true)
	stored, err := env.svc.Send(ctx, patient, session.ID, msgID, "are you there?")
	require.ErrorIs(t, err, models.ErrChannelUnavailable)
	require.NotNil(t, stored)

	env.channels.failing.Store(false)
	retried, err := env.svc.Send(ctx, patient, session.ID, msgID, "are you there?")
	require.NoError(t, err)
	assert.Equal(t, stored.Seq, retried.Seq)

	_, err = env.svc.Send(ctx, patient, session.ID, msgID, "are you there?")
	require.NoError(t, err)
	_, err = env.svc.Send(ctx, patient, session.ID, "", "second")
	require.NoError(t, err)

	ev, ok := next(t, sub)
	require.True(t, ok)
	assert.Equal(t, msgID, ev.(models.MessageEvent).Message.ID)
	ev, ok = next(t, sub)
	require.True(t, ok)
	assert.Equal(t, "second", ev.(models.MessageEvent).Message.Text, "duplicate publish is not delivered twice")

	messages, err := env.svc.Messages(ctx, doctor, session.ID, 0)
	require.NoError(t, err)
	assert.Len(t, messages, 2)

	_, err = env.svc.Send(ctx, patient, session.ID, "not-a-uuid", "x")
	require.ErrorIs(t, err, models.ErrInvalidInput)
	_, err = env.svc.Send(ctx, patient, session.ID, "", "")
	require.ErrorIs(t, err, models.ErrInvalidInput)
}

// Повтор сообщения после завершения возвращает сохраненное и ничего не публикует.
func TestService_RetryAfterEndIsNotPublished(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	patient := env.patient(20)
	doctor := env.onlineDoctor(t, "general", 20)
	session, err := env.svc.Request(ctx, patient, doctor.UserID)
	require.NoError(t, err)

	stream, err := env.transport.Subscribe(ctx, channel.SessionTopic(session.ID))
	require.NoError(t, err)
	defer func() { _ = stream.Close() }()

	msgID := uuid.NewString()
	_, err = env.svc.Send(ctx, patient, session.ID, msgID, "hello")
	require.NoError(t, err)
	_, err = env.svc.End(ctx, doctor, session.ID)
	require.NoError(t, err)

	retried, err := env.svc.Send(ctx, patient, session.ID, msgID, "hello")
	require.NoError(t, err)
	assert.Equal(t, msgID, retried.ID)

	var kinds []models.EventKind
	for done := false; !done; {
		select {
		case payload := <-stream.C():
			ev, err := models.DecodeEvent(payload)
			require.NoError(t, err)
			kinds = append(kinds, ev.Kind())
		case <-time.After(200 * time.Millisecond):
			done = true
		}
	}
	assert.Equal(t, []models.EventKind{models.EventMessage, models.EventSessionEnded}, kinds,
		"nothing is published after SessionEnded")
}

// sendDuringList публикует сообщение в окне между подпиской и чтением истории.
type sendDuringList struct {
	*memRepo
	once sync.Once
	send func()
}

func (r *sendDuringList) ListMessages(ctx context.Context, sessionID string, afterSeq int64) ([]*models.Message, error) {
	r.once.Do(r.send)
	return r.memRepo.ListMessages(ctx, sessionID, afterSeq)
}

func TestService_StreamDoesNotDuplicateBackfilled(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	patient := env.patient(20)
	doctor := env.onlineDoctor(t, "general", 20)
	session, err := env.svc.Request(ctx, patient, doctor.UserID)
	require.NoError(t, err)

	env.svc.repo = &sendDuringList{memRepo: env.repo, send: func() {
		_, err := env.svc.Send(ctx, patient, session.ID, "", "in the gap")
		assert.NoError(t, err)
	}}

	backlog, sub, err := env.svc.Stream(ctx, doctor, session.ID, 0)
	require.NoError(t, err)
	require.NotNil(t, sub)
	defer sub.Close()
	require.Len(t, backlog, 1)
	assert.Equal(t, "in the gap", backlog[0].(models.MessageEvent).Message.Text)

	_, err = env.svc.Send(ctx, doctor, session.ID, "", "after")
	require.NoError(t, err)
	_, err = env.svc.End(ctx, patient, session.ID)
	require.NoError(t, err)

	var live []string
	for {
		ev, ok := next(t, sub)
		if !ok {
			break
		}
		if msg, isMsg := ev.(models.MessageEvent); isMsg {
			live = append(live, msg.Message.Text)
		}
	}
	assert.Equal(t, []string{"after"}, live)
}

// Привязка пациента, оставшаяся от удаленного запроса, не блокирует новые консультации.
func TestService_StalePatientBindingIsCleared(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	patient := env.patient(40)
	doctor := env.onlineDoctor(t, "general", 20)
	other := env.onlineDoctor(t, "general", 20)

	require.NoError(t, env.presence.BindPatient(ctx, patient.UserID, uuid.NewString()))

	session, err := env.svc.Request(ctx, patient, doctor.UserID)
	require.NoError(t, err)
	bound, ok, err := env.presence.PatientSession(ctx, patient.UserID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, session.ID, bound)

	_, err = env.svc.Request(ctx, patient, other.UserID)
	require.ErrorIs(t, err, models.ErrPatientBusy, "live binding is kept")
	assert.Equal(t, int64(20), env.repo.balance(patient.UserID))
}

func TestService_Disposition(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	patient := env.patient(20)
	doctor := env.onlineDoctor(t, "general", 20)
	session, err := env.svc.Request(ctx, patient, doctor.UserID)
	require.NoError(t, err)
	_, err = env.svc.Send(ctx, patient, session.ID, "", "private")
	require.NoError(t, err)

	_, err = env.svc.Dispose(ctx, patient, session.ID, nil, models.DispositionSaved)
	require.ErrorIs(t, err, models.ErrSessionNotEnded, "active session cannot be disposed")

	_, err = env.svc.End(ctx, patient, session.ID)
	require.NoError(t, err)
	_, err = env.svc.End(ctx, doctor, session.ID)
	require.ErrorIs(t, err, models.ErrSessionNotActive)

	bad := 6
	_, err = env.svc.Dispose(ctx, patient, session.ID, &bad, models.DispositionSaved)
	require.ErrorIs(t, err, models.ErrInvalidInput)
	_, err = env.svc.Dispose(ctx, doctor, session.ID, nil, models.DispositionSaved)
	require.ErrorIs(t, err, models.ErrForbidden)

	disposed, err := env.svc.Dispose(ctx, patient, session.ID, nil, "")
	require.NoError(t, err)
	assert.Equal(t, models.DispositionDiscarded, disposed.Disposition)
	assert.Nil(t, disposed.Rating)

	messages, err := env.svc.Messages(ctx, patient, session.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, messages, "discarded transcript is purged")

	_, err = env.svc.Dispose(ctx, patient, session.ID, nil, models.DispositionSaved)
	require.ErrorIs(t, err, models.ErrSessionNotEnded)
	_, err = env.svc.Send(ctx, patient, session.ID, "", "late")
	require.ErrorIs(t, err, models.ErrSessionNotActive)

	// после распоряжения пациент свободен для новой консультации
	env.repo.mu.Lock()
	env.repo.balances[patient.UserID] = 20
	env.repo.mu.Unlock()
	_, err = env.svc.Request(ctx, patient, doctor.UserID)
	require.NoError(t, err)
}

func TestService_AbandonRequested(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	patient := env.patient(60)
	doctor := env.onlineDoctor(t, "cardiology", 60)

	// запрос, оборванный после списания и привязок
	stale := &models.Session{
		ID: uuid.NewString(), PatientID: patient.UserID, DoctorID: doctor.UserID, Cost: 60,
		CreatedAt: time.Now().Add(-time.Hour),
	}
	require.NoError(t, env.repo.CreateSession(ctx, stale))
	require.NoError(t, env.presence.BindPatient(ctx, patient.UserID, stale.ID))
	_, err := env.repo.Debit(ctx, patient.UserID, 60, ledger.DebitReference(stale.ID))
	require.NoError(t, err)
	require.NoError(t, env.presence.Bind(ctx, doctor.UserID, stale.ID))

	n, err := env.svc.AbandonRequested(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int64(60), env.repo.balance(patient.UserID))
	assert.True(t, env.available(t, doctor.UserID))
	assert.Equal(t, 0, env.repo.sessionCount())

	n, err = env.svc.AbandonRequested(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, int64(60), env.repo.balance(patient.UserID), "refund happens once")

	_, err = env.svc.Request(ctx, patient, doctor.UserID)
	require.NoError(t, err)
}

func TestService_GoOfflineEndsBoundSession(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	patient := env.patient(20)
	doctor := env.onlineDoctor(t, "general", 20)
	session, err := env.svc.Request(ctx, patient, doctor.UserID)
	require.NoError(t, err)

	_, sub, err := env.svc.Stream(ctx, patient, session.ID, 0)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, env.svc.GoOffline(ctx, doctor))

	ev, ok := next(t, sub)
	require.True(t, ok)
	ended := ev.(models.SessionEndedEvent)
	assert.Equal(t, models.RoleSystem, ended.EndedBy)
	assert.Equal(t, ReasonDoctorOffline, ended.Reason)

	got, err := env.svc.Get(ctx, patient, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateEnded, got.State)

	entry, err := env.presence.Get(ctx, doctor.UserID)
	require.NoError(t, err)
	assert.Nil(t, entry)

	require.ErrorIs(t, env.svc.GoOffline(ctx, patient), models.ErrForbidden)
}

func TestService_ExpireIdle(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	patient := env.patient(20)
	doctor := env.onlineDoctor(t, "general", 20)
	session, err := env.svc.Request(ctx, patient, doctor.UserID)
	require.NoError(t, err)

	n, err := env.svc.ExpireIdle(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	env.svc.now = func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }
	n, err = env.svc.ExpireIdle(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := env.svc.Get(ctx, patient, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateEnded, got.State)
	require.NotNil(t, got.EndedBy)
	assert.Equal(t, models.RoleSystem, *got.EndedBy)
	assert.True(t, env.available(t, doctor.UserID))
}

func TestService_StreamBackfill(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	patient := env.patient(20)
	doctor := env.onlineDoctor(t, "general", 20)
	session, err := env.svc.Request(ctx, patient, doctor.UserID)
	require.NoError(t, err)

	for _, text := range []string{"one", "two", "three"} {
		_, err := env.svc.Send(ctx, patient, session.ID, "", text)
		require.NoError(t, err)
	}

	backlog, sub, err := env.svc.Stream(ctx, doctor, session.ID, 1)
	require.NoError(t, err)
	require.NotNil(t, sub)
	defer sub.Close()
	require.Len(t, backlog, 2)
	assert.Equal(t, int64(2), backlog[0].(models.MessageEvent).Message.Seq)

	_, err = env.svc.Send(ctx, doctor, session.ID, "", "four")
	require.NoError(t, err)
	ev, ok := next(t, sub)
	require.True(t, ok)
	assert.Equal(t, int64(4), ev.(models.MessageEvent).Message.Seq)

	_, err = env.svc.End(ctx, patient, session.ID)
	require.NoError(t, err)

	backlog, sub2, err := env.svc.Stream(ctx, patient, session.ID, 3)
	require.NoError(t, err)
	assert.Nil(t, sub2)
	require.Len(t, backlog, 2)
	assert.Equal(t, models.EventSessionEnded, backlog[1].Kind())
}

func TestService_Access(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	patient := env.patient(20)
	doctor := env.onlineDoctor(t, "general", 20)
	stranger := env.patient(0)
	session, err := env.svc.Request(ctx, patient, doctor.UserID)
	require.NoError(t, err)

	_, err = env.svc.Get(ctx, stranger, session.ID)
	require.ErrorIs(t, err, models.ErrForbidden)
	_, err = env.svc.Send(ctx, stranger, session.ID, "", "hi")
	require.ErrorIs(t, err, models.ErrForbidden)
	_, err = env.svc.End(ctx, stranger, session.ID)
	require.ErrorIs(t, err, models.ErrForbidden)
	_, err = env.svc.Get(ctx, patient, uuid.NewString())
	require.ErrorIs(t, err, models.ErrSessionNotFound)
	_, err = env.svc.Get(ctx, patient, "not-a-uuid")
	require.ErrorIs(t, err, models.ErrSessionNotFound)

	current, err := env.svc.Current(ctx, doctor)
	require.NoError(t, err)
	assert.Equal(t, session.ID, current.ID)

	list, err := env.svc.List(ctx, patient, 10, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = env.svc.DoctorEvents(ctx, patient)
	require.True(t, errors.Is(err, models.ErrForbidden))
}
