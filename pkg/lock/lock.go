package lock

import (
	"context"
	"sync"
)

// Locker serializes mutating topology operations per key (typically a VPC
// name). Blocks until the lock is acquired or the context is cancelled.
type Locker interface {
	AcquireLock(ctx context.Context, key string) (Lock, error)
}

// Lock represents an acquired lock that must be released
type Lock interface {
	Release() error
}

// KeyedLocker hands out one mutex per key. Locks for different keys never
// contend, so operations on different VPCs proceed in parallel while two
// mutations of the same VPC are serialized.
type KeyedLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{locks: map[string]*sync.Mutex{}}
}

func (l *KeyedLocker) AcquireLock(ctx context.Context, key string) (Lock, error) {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	acquired := make(chan struct{})
	go func() {
		m.Lock()
		close(acquired)
	}()

	select {
	case <-acquired:
		return &keyedLock{m: m}, nil
	case <-ctx.Done():
		// The goroutine will still grab the mutex; release it once it does.
		go func() {
			<-acquired
			m.Unlock()
		}()
		return nil, ctx.Err()
	}
}

type keyedLock struct {
	m    *sync.Mutex
	once sync.Once
}

func (l *keyedLock) Release() error {
	l.once.Do(l.m.Unlock)
	return nil
}
