// Package chatlock serializes turns per chat id. Different chats never
// contend with each other.
package chatlock

import (
	"context"
	"errors"
	"sync"
)

// ErrEmptyID is returned when locking an empty chat id.
var ErrEmptyID = errors.New("chatlock: chat id is required")

// Locker provides mutual exclusion keyed by chat id.
type Locker interface {
	// Lock blocks until the chat's lock is held or ctx is done.
	Lock(ctx context.Context, chatID string) error
	Unlock(chatID string)
}

type entry struct {
	token chan struct{}
	refs  int
}

// LocalLocker is an in-process keyed mutex. Entries are dropped once no
// holder or waiter references them.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*entry
}

// NewLocalLocker creates a new in-process locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*entry)}
}

// Lock acquires the chat's lock.
func (l *LocalLocker) Lock(ctx context.Context, chatID string) error {
	if chatID == "" {
		return ErrEmptyID
	}

	l.mu.Lock()
	e, ok := l.locks[chatID]
	if !ok {
		e = &entry{token: make(chan struct{}, 1)}
		l.locks[chatID] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.token <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.release(chatID, e, false)
		return ctx.Err()
	}
}

// Unlock releases the chat's lock. Unlocking a chat that is not locked is a no-op.
func (l *LocalLocker) Unlock(chatID string) {
	l.mu.Lock()
	e, ok := l.locks[chatID]
	l.mu.Unlock()
	if !ok {
		return
	}
	l.release(chatID, e, true)
}

func (l *LocalLocker) release(chatID string, e *entry, held bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if held {
		select {
		case <-e.token:
		default:
			return
		}
	}
	e.refs--
	if e.refs == 0 {
		delete(l.locks, chatID)
	}
}

// Len reports how many chat ids currently have holders or waiters.
func (l *LocalLocker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
