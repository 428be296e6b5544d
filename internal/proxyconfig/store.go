package proxyconfig

import (
	"sync/atomic"
)

// Store holds the live ProxyConfig behind an atomic pointer, per
// SPEC_FULL.md §6: readers load a pointer once per request and continue
// against that snapshot even if a reload swaps in a new one mid-request;
// writers build a whole new *ProxyConfig and publish it atomically.
type Store struct {
	dir string
	ptr atomic.Pointer[ProxyConfig]
}

// NewStore loads the config document from dir and returns a Store wrapping
// it. Load errors are fatal to startup per spec.md §4.1.
func NewStore(dir string) (*Store, error) {
	cfg, err := Load(dir)
	if err != nil {
		return nil, err
	}
	s := &Store{dir: dir}
	s.ptr.Store(cfg)
	return s, nil
}

// Snapshot returns the current config. The returned pointer is safe to
// read concurrently with a Swap; callers must not mutate it in place.
func (s *Store) Snapshot() *ProxyConfig {
	return s.ptr.Load()
}

// Dir returns the directory this store loads from/saves to.
func (s *Store) Dir() string { return s.dir }

// Reload re-reads the config file from disk and swaps it in atomically.
// A request already in flight keeps using the snapshot it started with.
func (s *Store) Reload() error {
	cfg, err := Load(s.dir)
	if err != nil {
		return err
	}
	s.ptr.Store(cfg)
	return nil
}

// Swap publishes a new config document (e.g. after a control-API mutation)
// and persists it to disk.
func (s *Store) Swap(cfg *ProxyConfig) error {
	cfg.Normalize()
	if err := Save(s.dir, cfg); err != nil {
		return err
	}
	s.ptr.Store(cfg)
	return nil
}
