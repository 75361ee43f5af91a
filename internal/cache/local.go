package cache

import (
	"context"
	"strconv"
	"sync"
	"time"
)

type localEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e localEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// localClient keeps values in a map. Expired entries are dropped on access and by
// an occasional sweep during writes.
type localClient struct {
	mu      sync.Mutex
	entries map[string]localEntry
	writes  int
}

func newLocalClient() *localClient {
	return &localClient{entries: make(map[string]localEntry)}
}

func expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}

func (l *localClient) set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries[key] = localEntry{value: append([]byte(nil), value...), expiresAt: expiry(ttl)}
	l.sweepLocked()
	return nil
}

func (l *localClient) get(_ context.Context, key string) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	if entry.expired(time.Now()) {
		delete(l.entries, key)
		return nil, ErrCacheMiss
	}
	return append([]byte(nil), entry.value...), nil
}

func (l *localClient) del(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.entries, key)
	return nil
}

func (l *localClient) increment(_ context.Context, key string, ttl time.Duration) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var n int64
	entry, ok := l.entries[key]
	if ok && !entry.expired(time.Now()) {
		n, _ = strconv.ParseInt(string(entry.value), 10, 64)
	}

	n++
	entry = localEntry{value: []byte(strconv.FormatInt(n, 10)), expiresAt: expiry(ttl)}
	l.entries[key] = entry
	l.sweepLocked()
	return n, nil
}

func (l *localClient) ping(context.Context) error {
	return nil
}

func (l *localClient) close() error {
	return nil
}

func (l *localClient) sweepLocked() {
	l.writes++
	if l.writes%256 != 0 {
		return
	}
	now := time.Now()
	for key, entry := range l.entries {
		if entry.expired(now) {
			delete(l.entries, key)
		}
	}
}
