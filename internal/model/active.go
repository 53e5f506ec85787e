package model

import (
	"fmt"
	"sync"
)

// ActiveModel holds the model state currently owned by a scheduler.
type ActiveModel struct {
	mu    sync.RWMutex
	state *ModelState
}

// NewActiveModel returns an ActiveModel with no version loaded.
func NewActiveModel() *ActiveModel {
	return &ActiveModel{}
}

// Current returns the active state, or nil when nothing was spliced yet.
func (a *ActiveModel) Current() *ModelState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// Splice computes the delta from the active state to next and installs next
// as the active state. A version older than or equal to the active one is
// rejected with ErrStaleVersion and leaves the active state untouched.
func (a *ActiveModel) Splice(next *ModelState) (Delta, error) {
	if next == nil {
		return Delta{}, invalidf("splice of nil model state")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != nil && next.Version <= a.state.Version {
		return Delta{}, &GraphError{
			Kind: ErrStaleVersion,
			Msg:  fmt.Sprintf("version %d <= active %d", next.Version, a.state.Version),
		}
	}

	delta := Diff(a.state, next)
	a.state = next
	return delta, nil
}
