package script

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("script not found")

// Registry assigns ids to scripts and resolves them later.
// Registration is append-only; scripts are never mutated or replaced.
type Registry struct {
	mu      sync.RWMutex
	scripts map[string]Script
}

func NewRegistry() *Registry {
	return &Registry{scripts: map[string]Script{}}
}

// Register stores the script and returns its assigned id.
// The id embeds the script type for log readability; uniqueness comes from
// the uuid suffix.
func (r *Registry) Register(s Script) (string, error) {
	if s == nil {
		return "", errors.New("script is nil")
	}
	typ := strings.TrimSpace(s.Type())
	if typ == "" {
		return "", errors.New("script type is empty")
	}

	id := fmt.Sprintf("%s_%s", typ, uuid.NewString())
	r.mu.Lock()
	r.scripts[id] = s
	r.mu.Unlock()
	return id, nil
}

func (r *Registry) Get(id string) (Script, error) {
	r.mu.RLock()
	s, ok := r.scripts[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.scripts)
}

// Types returns the distinct registered script types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	seen := map[string]struct{}{}
	for _, s := range r.scripts {
		seen[s.Type()] = struct{}{}
	}
	r.mu.RUnlock()

	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
