// Package permission provides device permission gates for hosts without a
// native permission prompt.
package permission

import (
	"sync"

	"github.com/dkeye/AudioRooms/internal/domain"
	"github.com/rs/zerolog/log"
)

// Static answers from a fixed set. Grant and Revoke exist for tests and
// operator tooling.
type Static struct {
	mu      sync.RWMutex
	granted map[domain.Permission]bool
}

func NewStatic(granted ...domain.Permission) *Static {
	s := &Static{granted: make(map[domain.Permission]bool)}
	for _, p := range granted {
		s.granted[p] = true
	}
	return s
}

func (s *Static) RequestPermission(p domain.Permission) {
	log.Info().Str("module", "permission.static").Str("permission", string(p)).Bool("granted", s.HasPermission(p)).Msg("permission requested")
}

func (s *Static) HasPermission(p domain.Permission) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.granted[p]
}

func (s *Static) Grant(p domain.Permission) {
	s.mu.Lock()
	s.granted[p] = true
	s.mu.Unlock()
}

func (s *Static) Revoke(p domain.Permission) {
	s.mu.Lock()
	delete(s.granted, p)
	s.mu.Unlock()
}
