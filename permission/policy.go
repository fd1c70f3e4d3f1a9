package permission

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Wildcard, used as an action, grants every action the policy set names for
// that resource.
const Wildcard = "*"

// PolicySet is the full role → resource → actions rule table.
//
//	roles:
//	  admin:
//	    plan: [create, read, update, delete]
//	  user:
//	    plan: [read]
type PolicySet struct {
	Roles map[string]map[string][]string `yaml:"roles" json:"roles"`
}

// Validate rejects empty names and resources containing ':'.
func (p PolicySet) Validate() error {
	for role, resources := range p.Roles {
		if strings.TrimSpace(role) == "" {
			return errors.New("policy: empty role name")
		}
		for resource, actions := range resources {
			if strings.TrimSpace(resource) == "" {
				return fmt.Errorf("policy: role %q has an empty resource name", role)
			}
			if strings.Contains(resource, ":") {
				return fmt.Errorf("policy: resource %q cannot contain ':'", resource)
			}
			for _, action := range actions {
				if strings.TrimSpace(action) == "" {
					return fmt.Errorf("policy: role %q resource %q has an empty action", role, resource)
				}
			}
		}
	}
	return nil
}

// snapshot is an immutable compiled policy set. It is never written after
// compile returns.
type snapshot struct {
	version  uint64
	registry *Registry
	roles    *RoleManager
}

func (s *snapshot) allows(roles []string, resource, action string) bool {
	bit, ok := s.registry.Bit(resource, action)
	if !ok {
		return false
	}
	for _, role := range roles {
		if mask, ok := s.roles.Mask(role); ok && mask.Has(bit) {
			return true
		}
	}
	return false
}

func compile(set PolicySet, version uint64) (*snapshot, error) {
	if err := set.Validate(); err != nil {
		return nil, err
	}

	// resource -> concrete actions, wildcard excluded
	actions := make(map[string]map[string]struct{})
	for _, resources := range set.Roles {
		for resource, acts := range resources {
			if actions[resource] == nil {
				actions[resource] = make(map[string]struct{})
			}
			for _, a := range acts {
				if a != Wildcard {
					actions[resource][a] = struct{}{}
				}
			}
		}
	}

	keys := make([]string, 0)
	for resource, acts := range actions {
		for a := range acts {
			keys = append(keys, Key(resource, a))
		}
	}
	sort.Strings(keys)

	width, err := widthFor(len(keys))
	if err != nil {
		return nil, err
	}
	registry, err := NewRegistry(width)
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		resource, action, _ := strings.Cut(k, ":")
		if _, err := registry.Register(resource, action); err != nil {
			return nil, err
		}
	}
	registry.Freeze()

	rm := NewRoleManager(registry)
	for role, resources := range set.Roles {
		for resource, acts := range resources {
			for _, a := range acts {
				if a == Wildcard {
					for concrete := range actions[resource] {
						if err := rm.Grant(role, resource, concrete); err != nil {
							return nil, err
						}
					}
					continue
				}
				if err := rm.Grant(role, resource, a); err != nil {
					return nil, err
				}
			}
		}
	}
	rm.Freeze()

	return &snapshot{version: version, registry: registry, roles: rm}, nil
}
