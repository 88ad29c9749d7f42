package channel

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Transport доставка байтов по топикам. Порядок внутри топика сохраняется.
type Transport interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe возвращается только после того, как подписка активна:
	// всё опубликованное позже будет доставлено.
	Subscribe(ctx context.Context, topic string) (Stream, error)
}

// Stream поток полезных нагрузок одного топика.
type Stream interface {
	C() <-chan []byte
	Close() error
}

// RedisTransport транспорт поверх Redis pub/sub.
type RedisTransport struct {
	client *redis.Client
}

// NewRedisTransport создает транспорт поверх клиента Redis.
func NewRedisTransport(client *redis.Client) *RedisTransport {
	return &RedisTransport{client: client}
}

func (t *RedisTransport) Publish(ctx context.Context, topic string, payload []byte) error {
	const op = "channel.RedisTransport.Publish"
	if err := t.client.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (t *RedisTransport) Subscribe(ctx context.Context, topic string) (Stream, error) {
	const op = "channel.RedisTransport.Subscribe"

	ps := t.client.Subscribe(ctx, topic)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s := &redisStream{ps: ps, out: make(chan []byte), done: make(chan struct{})}
	go s.pump()
	return s, nil
}

type redisStream struct {
	ps   *redis.PubSub
	out  chan []byte
	done chan struct{}
	once sync.Once
}

func (s *redisStream) pump() {
	defer close(s.out)
	in := s.ps.Channel()
	for {
		select {
		case msg, ok := <-in:
			if !ok {
				return
			}
			select {
			case s.out <- []byte(msg.Payload):
			case <-s.done:
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *redisStream) C() <-chan []byte { return s.out }

func (s *redisStream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}

// MemoryTransport транспорт в памяти процесса. Подписчик не блокирует издателя:
// у каждого своя неограниченная очередь.
type MemoryTransport struct {
	mu     sync.Mutex
	topics map[string]map[*memoryStream]struct{}
}

// NewMemoryTransport создает пустой транспорт в памяти.
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{topics: make(map[string]map[*memoryStream]struct{})}
}

func (t *MemoryTransport) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for s := range t.topics[topic] {
		s.push(payload)
	}
	return nil
}

func (t *MemoryTransport) Subscribe(ctx context.Context, topic string) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := &memoryStream{
		out:    make(chan []byte),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	s.release = func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.topics[topic], s)
		if len(t.topics[topic]) == 0 {
			delete(t.topics, topic)
		}
	}

	t.mu.Lock()
	if t.topics[topic] == nil {
		t.topics[topic] = make(map[*memoryStream]struct{})
	}
	t.topics[topic][s] = struct{}{}
	t.mu.Unlock()

	go s.pump()
	return s, nil
}

// Subscribers количество активных подписок на топик.
func (t *MemoryTransport) Subscribers(topic string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.topics[topic])
}

type memoryStream struct {
	mu      sync.Mutex
	queue   [][]byte
	notify  chan struct{}
	out     chan []byte
	done    chan struct{}
	once    sync.Once
	release func()
}

func (s *memoryStream) push(payload []byte) {
	s.mu.Lock()
	s.queue = append(s.queue, payload)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *memoryStream) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		var (
			next []byte
			ok   bool
		)
		if len(s.queue) > 0 {
			next, ok = s.queue[0], true
			s.queue = s.queue[1:]
		}
		s.mu.Unlock()

		if !ok {
			select {
			case <-s.notify:
				continue
			case <-s.done:
				return
			}
		}

		select {
		case s.out <- next:
		case <-s.done:
			return
		}
	}
}

func (s *memoryStream) C() <-chan []byte { return s.out }

func (s *memoryStream) Close() error {
	s.once.Do(func() {
		s.release()
		close(s.done)
	})
	return nil
}
