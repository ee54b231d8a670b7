package config

import (
	"sync"
	"sync/atomic"
)

// Store holds the current Config for readers on any goroutine.
type Store struct {
	path    string
	current atomic.Pointer[Config]
	mu      sync.Mutex
}

func NewStore(cfg Config) *Store {
	s := &Store{path: cfg.File}
	s.current.Store(&cfg)
	return s
}

func (s *Store) Current() Config {
	return *s.current.Load()
}

// Reload re-reads the config file. The previous Config stays in place when
// the new one fails to load.
func (s *Store) Reload() (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := Load(s.path)
	if err != nil {
		return s.Current(), err
	}
	s.current.Store(&cfg)
	return cfg, nil
}
