package service

import "sync"

// keyedMutex serializes dispatch and retry runs per alert id. The store sees
// at most one writer per alert at a time within this process.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*alertLock
}

type alertLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*alertLock)}
}

// Lock acquires the per-key mutex and returns its unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	lock, ok := k.locks[key]
	if !ok {
		lock = &alertLock{}
		k.locks[key] = lock
	}
	lock.refs++
	k.mu.Unlock()

	lock.mu.Lock()

	return func() {
		lock.mu.Unlock()

		k.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
