// Package entitlement holds the per-product purchase counts: a flat
// string-keyed integer mapping behind the Store interface.
package entitlement

import (
	"errors"
	"sort"
	"sync"
)

// Domain is the default namespace for entitlement keys.
const Domain = "com.pipacs.Shop"

var ErrNegativeCount = errors.New("entitlement: negative count")

// Store is the entitlement persistence contract. A missing key reads as 0.
type Store interface {
	Get(key string) (int, error)
	Set(key string, n int) error
	Delete(key string) error
}

// Lister is implemented by stores that can enumerate their keys.
type Lister interface {
	Keys() ([]string, error)
}

// Memory is a process-local Store.
type Memory struct {
	mu sync.Mutex
	m  map[string]int
}

func NewMemory() *Memory {
	return &Memory{m: make(map[string]int)}
}

func (s *Memory) Get(key string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m[key], nil
}

func (s *Memory) Set(key string, n int) error {
	if n < 0 {
		return ErrNegativeCount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = n
	return nil
}

func (s *Memory) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	return nil
}

func (s *Memory) Keys() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.m))
	for k := range s.m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}
