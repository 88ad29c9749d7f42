package consultation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/magabrotheeeer/consultation-service/internal/models"
)

// memRepo хранилище в памяти с теми же гарантиями, что и PostgreSQL:
// переходы CAS, одна открытая консультация на пациента и одна живая на врача.
type memRepo struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
	messages map[string][]*models.Message
	balances map[string]int64
	journal  map[string]journalEntry
	doctors  map[string]*models.Doctor
}

type journalEntry struct {
	userID string
	amount int64
}

func newMemRepo() *memRepo {
	return &memRepo{
		sessions: make(map[string]*models.Session),
		messages: make(map[string][]*models.Message),
		balances: make(map[string]int64),
		journal:  make(map[string]journalEntry),
		doctors:  make(map[string]*models.Doctor),
	}
}

func clone(s *models.Session) *models.Session {
	c := *s
	return &c
}

func (r *memRepo) CreateSession(_ context.Context, session *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.PatientID == session.PatientID && s.State != models.StateDisposed {
			return models.ErrPatientBusy
		}
		if s.DoctorID == session.DoctorID && (s.State == models.StateRequested || s.State == models.StateActive) {
			return models.ErrDoctorUnavailable
		}
	}
	c := clone(session)
	c.State = models.StateRequested
	r.sessions[c.ID] = c
	return nil
}

func (r *memRepo) ActivateSession(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || s.State != models.StateRequested {
		return models.ErrSessionNotActive
	}
	s.State = models.StateActive
	s.LastActivityAt = at
	return nil
}

func (r *memRepo) EndSession(_ context.Context, id string, endedBy models.Role, at time.Time) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || s.State != models.StateActive {
		return nil, models.ErrSessionNotActive
	}
	s.State = models.StateEnded
	s.EndedAt = &at
	s.EndedBy = &endedBy
	return clone(s), nil
}

func (r *memRepo) DeleteRequestedSession(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || s.State != models.StateRequested {
		return false, nil
	}
	delete(r.sessions, id)
	return true, nil
}

func (r *memRepo) GetSession(_ context.Context, id string) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, models.ErrSessionNotFound
	}
	return clone(s), nil
}

func (r *memRepo) CurrentSessionForUser(_ context.Context, userID string) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.State == models.StateActive && s.HasParticipant(userID) {
			return clone(s), nil
		}
		if s.State == models.StateEnded && s.PatientID == userID {
			return clone(s), nil
		}
	}
	return nil, models.ErrSessionNotFound
}

func (r *memRepo) ListSessionsForUser(_ context.Context, userID string, limit, offset int) ([]*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*models.Session
	for _, s := range r.sessions {
		if s.State != models.StateRequested && s.HasParticipant(userID) {
			result = append(result, clone(s))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if offset >= len(result) {
		return nil, nil
	}
	result = result[offset:]
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *memRepo) ListStaleRequested(_ context.Context, olderThan time.Time) ([]*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*models.Session
	for _, s := range r.sessions {
		if s.State == models.StateRequested && s.CreatedAt.Before(olderThan) {
			result = append(result, clone(s))
		}
	}
	return result, nil
}

func (r *memRepo) ListIdleActive(_ context.Context, idleSince time.Time) ([]*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*models.Session
	for _, s := range r.sessions {
		if s.State == models.StateActive && s.LastActivityAt.Before(idleSince) {
			result = append(result, clone(s))
		}
	}
	return result, nil
}

func (r *memRepo) DisposeSession(_ context.Context, id string, rating *int, decision models.Disposition) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || s.State != models.StateEnded {
		return nil, models.ErrSessionNotEnded
	}
	s.State = models.StateDisposed
	s.Rating = rating
	s.Disposition = decision
	if decision == models.DispositionDiscarded {
		delete(r.messages, id)
	}
	return clone(s), nil
}

func (r *memRepo) AppendMessage(_ context.Context, msg models.Message) (*models.Message, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[msg.SessionID]
	if !ok {
		return nil, false, models.ErrSessionNotFound
	}
	for _, m := range r.messages[msg.SessionID] {
		if m.ID == msg.ID {
			c := *m
			return &c, false, nil
		}
	}
	if s.State != models.StateActive {
		return nil, false, models.ErrSessionNotActive
	}
	msg.Seq = int64(len(r.messages[msg.SessionID]) + 1)
	stored := msg
	r.messages[msg.SessionID] = append(r.messages[msg.SessionID], &stored)
	s.LastActivityAt = msg.SentAt
	return &msg, true, nil
}

func (r *memRepo) ListMessages(_ context.Context, sessionID string, afterSeq int64) ([]*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*models.Message
	for _, m := range r.messages[sessionID] {
		if m.Seq > afterSeq {
			c := *m
			result = append(result, &c)
		}
	}
	return result, nil
}

// ledger.Repository

func (r *memRepo) Debit(_ context.Context, userID string, amount int64, reference string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.journal[reference]; dup {
		return 0, models.ErrDuplicateReference
	}
	if r.balances[userID] < amount {
		return 0, models.ErrInsufficientFunds
	}
	r.balances[userID] -= amount
	r.journal[reference] = journalEntry{userID: userID, amount: -amount}
	return r.balances[userID], nil
}

func (r *memRepo) Credit(_ context.Context, userID string, amount int64, reference string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.journal[reference]; dup {
		return 0, models.ErrDuplicateReference
	}
	r.balances[userID] += amount
	r.journal[reference] = journalEntry{userID: userID, amount: amount}
	return r.balances[userID], nil
}

func (r *memRepo) EntryAmount(_ context.Context, reference string) (string, int64, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.journal[reference]
	return e.userID, e.amount, ok, nil
}

func (r *memRepo) Balance(_ context.Context, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.balances[userID], nil
}

func (r *memRepo) balance(userID string) int64 {
	b, _ := r.Balance(context.Background(), userID)
	return b
}

func (r *memRepo) sessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Directory

func (r *memRepo) Doctor(_ context.Context, id string) (*models.Doctor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.doctors[id]
	if !ok {
		return nil, models.ErrDoctorNotFound
	}
	c := *d
	return &c, nil
}

// recordingPublisher запоминает события жизненного цикла.
type recordingPublisher struct {
	mu     sync.Mutex
	events []models.LifecycleEvent
}

func (p *recordingPublisher) PublishLifecycle(_ context.Context, event models.LifecycleEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}
