// Package routing decides which model serves the next request.
//
// ModelState separates the model the user chose (preferred) from the model
// currently serving requests (active). Fallback moves the active model; only
// an explicit SetModel changes the preference.
package routing

import "sync"

// ModelState holds the preferred and active model ids. It is safe for
// concurrent use.
type ModelState struct {
	mu        sync.RWMutex
	preferred string
	active    string
}

// NewModelState starts with active equal to preferred.
func NewModelState(preferred string) *ModelState {
	return &ModelState{preferred: preferred, active: preferred}
}

// Model returns the preferred model.
func (s *ModelState) Model() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.preferred
}

// ActiveModel returns the model currently serving requests.
func (s *ModelState) ActiveModel() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// SetActiveModel switches the serving model without touching the preference.
func (s *ModelState) SetActiveModel(model string) {
	s.mu.Lock()
	s.active = model
	s.mu.Unlock()
}

// SetModel changes the preference and the active model together.
func (s *ModelState) SetModel(model string) {
	s.mu.Lock()
	s.preferred = model
	s.active = model
	s.mu.Unlock()
}
