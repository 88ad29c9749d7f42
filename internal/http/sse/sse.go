// Package sse отдаёт события каналов консультаций клиенту как text/event-stream.
//
// Событие сообщения несёт id, равный seq сообщения, поэтому браузер после
// переподключения присылает его в Last-Event-ID и получает только недостающее.
package sse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/magabrotheeeer/consultation-service/internal/lib/sl"
	"github.com/magabrotheeeer/consultation-service/internal/models"
)

// HeartbeatInterval период комментариев-пингов, удерживающих соединение через прокси.
var HeartbeatInterval = 15 * time.Second

// ErrStreamingUnsupported ResponseWriter не умеет Flush.
var ErrStreamingUnsupported = errors.New("streaming unsupported")

// Source поток событий подписки.
type Source interface {
	Events() <-chan models.Event
}

// Writer пишет события в открытый поток.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// Start выставляет заголовки потока и отправляет их клиенту.
func Start(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}
	// поток живёт дольше WriteTimeout сервера
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &Writer{w: w, flusher: flusher}, nil
}

// Write отправляет одно событие.
func (sw *Writer) Write(event models.Event) error {
	const op = "sse.Write"

	payload, err := models.EncodeEvent(event)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if msg, ok := event.(models.MessageEvent); ok {
		if _, err := fmt.Fprintf(sw.w, "id: %d\n", msg.Message.Seq); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	if _, err := fmt.Fprintf(sw.w, "event: %s\ndata: %s\n\n", event.Kind(), payload); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	sw.flusher.Flush()
	return nil
}

// Ping отправляет комментарий, который клиент игнорирует.
func (sw *Writer) Ping() error {
	if _, err := fmt.Fprint(sw.w, ": ping\n\n"); err != nil {
		return err
	}
	sw.flusher.Flush()
	return nil
}

// Pump отдаёт backlog, затем события подписки, пока клиент не уйдёт,
// подписка не закроется или не придёт SessionEnded. src может быть nil,
// тогда отдаётся только backlog.
func Pump(ctx context.Context, sw *Writer, backlog []models.Event, src Source, log *slog.Logger) {
	for _, event := range backlog {
		if err := sw.Write(event); err != nil {
			log.Info("client gone during backlog", sl.Err(err))
			return
		}
		if event.Kind() == models.EventSessionEnded {
			return
		}
	}
	if src == nil {
		return
	}

	heartbeat := time.NewTicker(HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if err := sw.Ping(); err != nil {
				log.Info("client gone", sl.Err(err))
				return
			}
		case event, ok := <-src.Events():
			if !ok {
				return
			}
			if err := sw.Write(event); err != nil {
				log.Info("client gone", sl.Err(err))
				return
			}
			if event.Kind() == models.EventSessionEnded {
				return
			}
		}
	}
}

// LastEventID разбирает Last-Event-ID (или query-параметр after) как seq.
// Отсутствующее или некорректное значение означает поток с начала.
func LastEventID(r *http.Request) int64 {
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		raw = r.URL.Query().Get("after")
	}
	seq, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || seq < 0 {
		return 0
	}
	return seq
}
