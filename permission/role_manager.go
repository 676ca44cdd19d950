package permission

import (
	"errors"
	"sort"
	"sync"
)

// Built-in roles.
const (
	RoleAdmin       = "admin"
	RoleTeamManager = "manager"
	RoleCaseworker  = "caseworker"
	RoleViewer      = "viewer"
)

// Built-in permissions.
const (
	Create      = "create"
	Read        = "read"
	Update      = "update"
	Delete      = "delete"
	ManageUsers = "manage_users"
	ViewReports = "view_reports"
)

// RoleManager maps role names to permission sets drawn from a [Registry].
type RoleManager struct {
	registry *Registry

	mu     sync.RWMutex
	roles  map[string]map[string]struct{}
	frozen bool
}

// NewRoleManager creates a [RoleManager] that validates against registry.
func NewRoleManager(registry *Registry) *RoleManager {
	return &RoleManager{
		registry: registry,
		roles:    make(map[string]map[string]struct{}),
	}
}

// RegisterRole defines roleName with the given registered permissions.
func (rm *RoleManager) RegisterRole(roleName string, permissionNames ...string) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.frozen {
		return errors.New("role manager frozen")
	}
	if roleName == "" {
		return errors.New("role name empty")
	}
	if _, exists := rm.roles[roleName]; exists {
		return errors.New("role already registered")
	}

	set := make(map[string]struct{}, len(permissionNames))
	for _, perm := range permissionNames {
		if !rm.registry.Has(perm) {
			return errors.New("permission not registered: " + perm)
		}
		set[perm] = struct{}{}
	}
	rm.roles[roleName] = set
	return nil
}

// Has reports whether roleName holds perm. Unknown roles hold nothing.
func (rm *RoleManager) Has(roleName, perm string) bool {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	set, ok := rm.roles[roleName]
	if !ok {
		return false
	}
	_, ok = set[perm]
	return ok
}

// Exists reports whether roleName is registered.
func (rm *RoleManager) Exists(roleName string) bool {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	_, ok := rm.roles[roleName]
	return ok
}

// Permissions returns the sorted permissions of roleName.
func (rm *RoleManager) Permissions(roleName string) []string {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	set := rm.roles[roleName]
	out := make([]string, 0, len(set))
	for perm := range set {
		out = append(out, perm)
	}
	sort.Strings(out)
	return out
}

// Freeze prevents further role registrations.
func (rm *RoleManager) Freeze() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.frozen = true
}

// Count returns the number of registered roles.
func (rm *RoleManager) Count() int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.roles)
}

// Default returns the frozen built-in role table.
func Default() *RoleManager {
	reg := NewRegistry()
	_ = reg.Register(Create, Read, Update, Delete, ManageUsers, ViewReports)
	reg.Freeze()

	rm := NewRoleManager(reg)
	_ = rm.RegisterRole(RoleAdmin, Create, Read, Update, Delete, ManageUsers, ViewReports)
	_ = rm.RegisterRole(RoleTeamManager, Create, Read, Update, Delete, ViewReports)
	_ = rm.RegisterRole(RoleCaseworker, Create, Read, Update)
	_ = rm.RegisterRole(RoleViewer, Read)
	rm.Freeze()
	return rm
}
