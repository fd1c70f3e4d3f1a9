package permission

import (
	"errors"
	"strings"
	"sync"
)

// Key returns the registry name of an action on a resource.
func Key(resource, action string) string {
	return resource + ":" + action
}

// Registry maps "resource:action" names to bit positions within a mask of a
// fixed width (64, 128, 256 or 512).
type Registry struct {
	width int

	mu        sync.RWMutex
	nameToBit map[string]int
	bitToName []string
	frozen    bool
}

// NewRegistry creates an empty [Registry] whose masks are width bits wide.
func NewRegistry(width int) (*Registry, error) {
	if width != 64 && width != 128 && width != 256 && width != 512 {
		return nil, errors.New("invalid mask width")
	}

	return &Registry{
		width:     width,
		nameToBit: make(map[string]int),
	}, nil
}

// Register assigns the next free bit to resource:action and returns it.
// It fails once the registry is frozen or full.
func (r *Registry) Register(resource, action string) (int, error) {
	if resource == "" || action == "" {
		return -1, errors.New("resource and action cannot be empty")
	}
	if strings.Contains(resource, ":") {
		return -1, errors.New("resource cannot contain ':'")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return -1, errors.New("registry frozen")
	}

	name := Key(resource, action)
	if _, exists := r.nameToBit[name]; exists {
		return -1, errors.New("permission already registered: " + name)
	}

	nextBit := len(r.bitToName)
	if nextBit >= r.width {
		return -1, errors.New("permission limit exceeded")
	}

	r.nameToBit[name] = nextBit
	r.bitToName = append(r.bitToName, name)
	return nextBit, nil
}

// Bit returns the bit assigned to resource:action.
func (r *Registry) Bit(resource, action string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bit, ok := r.nameToBit[Key(resource, action)]
	return bit, ok
}

// Name returns the permission name for the given bit index, or false if unassigned.
func (r *Registry) Name(bit int) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if bit < 0 || bit >= len(r.bitToName) {
		return "", false
	}
	return r.bitToName[bit], true
}

// Freeze prevents further registrations.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Count returns the number of registered permissions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bitToName)
}

// Width returns the mask width this registry allocates bits for.
func (r *Registry) Width() int {
	return r.width
}
