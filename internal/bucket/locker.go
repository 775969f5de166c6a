// Package bucket serializes mutations per queue bucket.
//
// A bucket is either (department, date) for appointment positions or
// (department, service, date) for waitlist positions. Callers that need
// several buckets must request them in a single Acquire call; keys are
// always taken in sorted order so two callers can never deadlock.
package bucket

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Locker grants exclusive access to a set of bucket keys.
type Locker interface {
	Acquire(ctx context.Context, keys ...string) (release func(), err error)
}

const dateLayout = "2006-01-02"

// AppointmentKey identifies the (department, date) bucket.
func AppointmentKey(departmentID string, date time.Time) string {
	return "appointments:" + departmentID + ":" + date.Format(dateLayout)
}

// WaitlistKey identifies the (department, service, date) bucket.
func WaitlistKey(departmentID, serviceID string, date time.Time) string {
	return "waitlist:" + departmentID + ":" + serviceID + ":" + date.Format(dateLayout)
}

// CitizenKey guards the one-active-appointment-per-day rule across departments.
func CitizenKey(citizenID string, date time.Time) string {
	return "citizen:" + citizenID + ":" + date.Format(dateLayout)
}

func normalizeKeys(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// KeyedMutex is an in-process Locker with one mutex per key.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sem  chan struct{}
	refs int
}

// NewKeyedMutex creates an in-process locker.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyLock)}
}

// Acquire blocks until every key is held or ctx is done.
func (k *KeyedMutex) Acquire(ctx context.Context, keys ...string) (func(), error) {
	keys = normalizeKeys(keys)
	held := make([]string, 0, len(keys))
	for _, key := range keys {
		if err := k.lock(ctx, key); err != nil {
			k.unlockAll(held)
			return nil, err
		}
		held = append(held, key)
	}
	var once sync.Once
	return func() {
		once.Do(func() { k.unlockAll(held) })
	}, nil
}

func (k *KeyedMutex) lock(ctx context.Context, key string) error {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{sem: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		k.release(key, l, false)
		return ctx.Err()
	}
}

func (k *KeyedMutex) unlockAll(keys []string) {
	for i := len(keys) - 1; i >= 0; i-- {
		k.mu.Lock()
		l := k.locks[keys[i]]
		k.mu.Unlock()
		if l != nil {
			k.release(keys[i], l, true)
		}
	}
}

func (k *KeyedMutex) release(key string, l *keyLock, held bool) {
	if held {
		<-l.sem
	}
	k.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()
}
