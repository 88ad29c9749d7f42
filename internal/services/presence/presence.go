// Package presence хранит в Redis присутствие врачей и привязки врачей и пациентов
// к консультациям. Все изменения записи выполняются Lua-скриптами, поэтому
// проверка и запись атомарны для всех экземпляров сервиса.
//
// Повторный GoOnline врача, у которого идет консультация, сохраняет привязку:
// живую сессию не обнуляет переподключение врача, и у врача по-прежнему не больше
// одной привязки. Врач без привязки возвращается в свободное состояние.
package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/magabrotheeeer/consultation-service/internal/models"
)

const (
	onlineSetKey = "presence:online"
	fieldOnline  = "online"
	fieldSession = "session"
	fieldUpdated = "updated_at"
)

func doctorKey(doctorID string) string   { return "presence:doctor:" + doctorID }
func patientKey(patientID string) string { return "presence:patient:" + patientID }

var goOnlineScript = redis.NewScript(`
redis.call('HSET', KEYS[1], 'online', '1', 'updated_at', ARGV[2])
if redis.call('HEXISTS', KEYS[1], 'session') == 0 then
	redis.call('HSET', KEYS[1], 'session', '')
end
redis.call('SADD', KEYS[2], ARGV[1])
return redis.call('HGET', KEYS[1], 'session')
`)

// 0 привязан, 1 врач не онлайн, 2 уже привязан
var bindScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'online') ~= '1' then
	return 1
end
local cur = redis.call('HGET', KEYS[1], 'session')
if cur and cur ~= '' then
	return 2
end
redis.call('HSET', KEYS[1], 'session', ARGV[1], 'updated_at', ARGV[2])
return 0
`)

var unbindScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'session') == ARGV[1] then
	redis.call('HSET', KEYS[1], 'session', '', 'updated_at', ARGV[2])
	return 1
end
return 0
`)

var goOfflineScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'session')
redis.call('DEL', KEYS[1])
redis.call('SREM', KEYS[2], ARGV[1])
if cur then
	return cur
end
return ''
`)

var unbindPatientScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// Registry реестр присутствия поверх Redis.
type Registry struct {
	client *redis.Client
	log    *slog.Logger
	now    func() time.Time
}

// New создает новый экземпляр Registry.
func New(client *redis.Client, log *slog.Logger) *Registry {
	return &Registry{
		client: client,
		log:    log,
		now:    time.Now,
	}
}

func (r *Registry) stamp() string {
	return r.now().UTC().Format(time.RFC3339Nano)
}

// GoOnline отмечает врача онлайн. Повторный вызов только обновляет отметку времени,
// уже существующая привязка к консультации сохраняется.
func (r *Registry) GoOnline(ctx context.Context, doctorID string) (*models.PresenceEntry, error) {
	const op = "presence.GoOnline"

	bound, err := goOnlineScript.Run(ctx, r.client,
		[]string{doctorKey(doctorID), onlineSetKey}, doctorID, r.stamp()).Text()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	entry := &models.PresenceEntry{DoctorID: doctorID, Online: true, UpdatedAt: r.now().UTC()}
	if bound != "" {
		entry.BoundSessionID = &bound
	}
	return entry, nil
}

// GoOffline удаляет запись врача и возвращает консультацию, к которой он был привязан.
// Завершить эту консультацию должен вызывающий.
func (r *Registry) GoOffline(ctx context.Context, doctorID string) (string, error) {
	const op = "presence.GoOffline"

	bound, err := goOfflineScript.Run(ctx, r.client,
		[]string{doctorKey(doctorID), onlineSetKey}, doctorID).Text()
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return bound, nil
}

// Bind привязывает врача к консультации.
// Если врач не онлайн, возвращает models.ErrDoctorUnavailable, если уже привязан, models.ErrAlreadyBound.
func (r *Registry) Bind(ctx context.Context, doctorID, sessionID string) error {
	const op = "presence.Bind"

	code, err := bindScript.Run(ctx, r.client, []string{doctorKey(doctorID)}, sessionID, r.stamp()).Int()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	switch code {
	case 0:
		return nil
	case 1:
		return fmt.Errorf("%s: %w", op, models.ErrDoctorUnavailable)
	default:
		return fmt.Errorf("%s: %w", op, models.ErrAlreadyBound)
	}
}

// Unbind снимает привязку врача, только если он привязан именно к sessionID.
// Онлайн-статус не меняется.
func (r *Registry) Unbind(ctx context.Context, doctorID, sessionID string) error {
	const op = "presence.Unbind"

	if err := unbindScript.Run(ctx, r.client, []string{doctorKey(doctorID)}, sessionID, r.stamp()).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// BindPatient закрепляет за пациентом консультацию. Если у пациента уже есть
// незакрытая консультация, возвращает models.ErrPatientBusy.
func (r *Registry) BindPatient(ctx context.Context, patientID, sessionID string) error {
	const op = "presence.BindPatient"

	ok, err := r.client.SetNX(ctx, patientKey(patientID), sessionID, 0).Result()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return fmt.Errorf("%s: %w", op, models.ErrPatientBusy)
	}
	return nil
}

// UnbindPatient снимает привязку пациента, только если она указывает на sessionID.
func (r *Registry) UnbindPatient(ctx context.Context, patientID, sessionID string) error {
	const op = "presence.UnbindPatient"

	if err := unbindPatientScript.Run(ctx, r.client, []string{patientKey(patientID)}, sessionID).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// PatientSession возвращает консультацию, закрепленную за пациентом.
func (r *Registry) PatientSession(ctx context.Context, patientID string) (string, bool, error) {
	const op = "presence.PatientSession"

	sessionID, err := r.client.Get(ctx, patientKey(patientID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%s: %w", op, err)
	}
	return sessionID, true, nil
}

// Get возвращает запись присутствия врача. Для врача не онлайн возвращает nil без ошибки.
func (r *Registry) Get(ctx context.Context, doctorID string) (*models.PresenceEntry, error) {
	const op = "presence.Get"

	fields, err := r.client.HGetAll(ctx, doctorKey(doctorID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return entryFromFields(doctorID, fields), nil
}

// CountOnline число врачей онлайн, включая занятых.
func (r *Registry) CountOnline(ctx context.Context) (int64, error) {
	n, err := r.client.SCard(ctx, onlineSetKey).Result()
	if err != nil {
		return 0, fmt.Errorf("presence.CountOnline: %w", err)
	}
	return n, nil
}

// ListAvailable возвращает идентификаторы врачей онлайн без привязки.
func (r *Registry) ListAvailable(ctx context.Context) ([]string, error) {
	const op = "presence.ListAvailable"

	ids, err := r.client.SMembers(ctx, onlineSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, doctorKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	available := make([]string, 0, len(ids))
	for i, id := range ids {
		fields := cmds[i].Val()
		if len(fields) == 0 {
			continue
		}
		if entryFromFields(id, fields).Available() {
			available = append(available, id)
		}
	}
	return available, nil
}

func entryFromFields(doctorID string, fields map[string]string) *models.PresenceEntry {
	entry := &models.PresenceEntry{
		DoctorID: doctorID,
		Online:   fields[fieldOnline] == "1",
	}
	if s := fields[fieldSession]; s != "" {
		entry.BoundSessionID = &s
	}
	if ts, err := time.Parse(time.RFC3339Nano, fields[fieldUpdated]); err == nil {
		entry.UpdatedAt = ts
	}
	return entry
}
