package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Memory keeps objects in process, for local runs and tests.
type Memory struct {
	baseURL string

	mu      sync.RWMutex
	objects map[string]Object
}

func NewMemory(baseURL string) *Memory {
	if baseURL == "" {
		baseURL = "memory://ridecheck"
	}
	return &Memory{baseURL: strings.TrimRight(baseURL, "/"), objects: make(map[string]Object)}
}

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Put(_ context.Context, obj Object) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj.Body = append([]byte(nil), obj.Body...)
	m.objects[obj.Key] = obj
	return m.baseURL + "/" + obj.Key, nil
}

func (m *Memory) Get(_ context.Context, key string) (Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return Object{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	obj.Body = append([]byte(nil), obj.Body...)
	return obj, nil
}

// Keys lists stored keys with the given prefix, sorted.
func (m *Memory) Keys(prefix string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
