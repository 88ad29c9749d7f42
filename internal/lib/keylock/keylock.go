// Package keylock линеаризует операции по ключу: операции над разными ключами
// идут параллельно, над одним ключом строго по очереди.
package keylock

import (
	"context"
	"fmt"
	"sync"
)

type entry struct {
	ch   chan struct{}
	refs int
}

// Locker набор мьютексов по строковому ключу. Нулевое значение не готово к работе, используйте New.
type Locker struct {
	mu   sync.Mutex
	keys map[string]*entry
}

// New создаёт пустой Locker.
func New() *Locker {
	return &Locker{keys: make(map[string]*entry)}
}

// Lock захватывает ключ и возвращает функцию освобождения.
// Ожидание прерывается по ctx, тогда ключ не захвачен.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	const op = "keylock.Lock"

	l.mu.Lock()
	e, ok := l.keys[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.keys[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
		return func() { l.release(key, e) }, nil
	case <-ctx.Done():
		l.drop(key, e)
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	}
}

// Len количество ключей, по которым сейчас кто-то держит или ждёт блокировку.
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}

func (l *Locker) release(key string, e *entry) {
	<-e.ch
	l.drop(key, e)
}

func (l *Locker) drop(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.keys, key)
	}
}
