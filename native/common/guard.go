package common

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

var ErrModulePaused = errors.New("module paused")

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// GuardAction checks both the module wide switch and the switch for a single
// action within the module ("lending" and "lending.borrow").
func GuardAction(p PauseView, module, action string) error {
	if err := Guard(p, module); err != nil {
		return fmt.Errorf("%w: %s", err, module)
	}
	if action == "" {
		return nil
	}
	key := module + "." + action
	if err := Guard(p, key); err != nil {
		return fmt.Errorf("%w: %s", err, key)
	}
	return nil
}

// Pauses is an in-memory PauseView. Keys are either a module name or
// "module.action".
type Pauses struct {
	mu     sync.RWMutex
	paused map[string]bool
}

func NewPauses() *Pauses {
	return &Pauses{paused: make(map[string]bool)}
}

// Set toggles the switch for the supplied key.
func (p *Pauses) Set(key string, paused bool) {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if paused {
		p.paused[key] = true
		return
	}
	delete(p.paused, key)
}

func (p *Pauses) IsPaused(key string) bool {
	if p == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paused[strings.ToLower(strings.TrimSpace(key))]
}
