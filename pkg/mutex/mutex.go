package mutex

import "sync"

// KeyedMutex provides independent locks per key, created on first use.
type KeyedMutex[K comparable] struct {
	muMap sync.Map
}

func (km *KeyedMutex[K]) Lock(key K) {
	mu, _ := km.muMap.LoadOrStore(key, &sync.Mutex{})
	mu.(*sync.Mutex).Lock()
}

func (km *KeyedMutex[K]) Unlock(key K) {
	mu, ok := km.muMap.Load(key)
	if ok {
		mu.(*sync.Mutex).Unlock()
	}
}
