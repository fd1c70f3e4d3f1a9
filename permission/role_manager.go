package permission

import (
	"errors"
	"sync"
)

// RoleManager binds role names to masks over a shared [Registry].
type RoleManager struct {
	registry *Registry

	mu     sync.RWMutex
	roles  map[string]Mask
	frozen bool
}

// NewRoleManager returns an empty [RoleManager] over registry.
func NewRoleManager(registry *Registry) *RoleManager {
	return &RoleManager{
		registry: registry,
		roles:    make(map[string]Mask),
	}
}

// Grant adds resource:action to role, creating the role on first use.
func (rm *RoleManager) Grant(role, resource, action string) error {
	if role == "" {
		return errors.New("role name empty")
	}

	bit, ok := rm.registry.Bit(resource, action)
	if !ok {
		return errors.New("permission not registered: " + Key(resource, action))
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.frozen {
		return errors.New("role manager frozen")
	}

	mask, exists := rm.roles[role]
	if !exists {
		m, err := NewMask(rm.registry.Width())
		if err != nil {
			return err
		}
		mask = m
		rm.roles[role] = mask
	}
	mask.Set(bit)
	return nil
}

// Mask returns the mask of role.
func (rm *RoleManager) Mask(role string) (Mask, bool) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	mask, ok := rm.roles[role]
	return mask, ok
}

// Freeze prevents further grants. Masks returned afterwards are never written again.
func (rm *RoleManager) Freeze() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.frozen = true
}

// Count returns the number of roles with at least one grant.
func (rm *RoleManager) Count() int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.roles)
}
