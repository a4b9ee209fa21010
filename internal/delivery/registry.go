package delivery

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrNoHandler is returned for a target whose prefix nobody registered.
var ErrNoHandler = errors.New("no delivery handler")

// Handler delivers a message to a target such as "telegram:12345".
type Handler func(target, message string) error

// Registry routes alert messages to handlers by target prefix. When
// prefixes overlap the longest one wins, so "telegram:ops:" can override
// "telegram:".
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	prefixes []string // longest first
}

// NewRegistry creates an empty delivery registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register adds a handler for targets starting with prefix, replacing any
// handler already registered for the same prefix.
func (r *Registry) Register(prefix string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[prefix]; !ok {
		r.prefixes = append(r.prefixes, prefix)
		sort.SliceStable(r.prefixes, func(i, j int) bool {
			return len(r.prefixes[i]) > len(r.prefixes[j])
		})
	}
	r.handlers[prefix] = handler
}

func (r *Registry) resolve(target string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, prefix := range r.prefixes {
		if strings.HasPrefix(target, prefix) {
			return r.handlers[prefix], true
		}
	}
	return nil, false
}

// Deliver sends message to a single target.
func (r *Registry) Deliver(target, message string) error {
	h, ok := r.resolve(target)
	if !ok {
		return fmt.Errorf("%w for target: %s", ErrNoHandler, target)
	}
	return h(target, message)
}

// Broadcast sends message to every target. Each target is attempted; the
// failures are joined and name their target.
func (r *Registry) Broadcast(targets []string, message string) error {
	var errs []error
	for _, t := range targets {
		if err := r.Deliver(t, message); err != nil {
			errs = append(errs, fmt.Errorf("deliver to %s: %w", t, err))
		}
	}
	return errors.Join(errs...)
}

// Unroutable returns the targets no registered prefix matches.
func (r *Registry) Unroutable(targets []string) []string {
	var out []string
	for _, t := range targets {
		if _, ok := r.resolve(t); !ok {
			out = append(out, t)
		}
	}
	return out
}
