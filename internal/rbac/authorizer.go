package rbac

import "sort"

// PermissionSet is a resolved set of permission names. The zero value is an
// empty set.
type PermissionSet map[string]struct{}

// NewPermissionSet builds a set from names.
func NewPermissionSet(names ...string) PermissionSet {
	set := make(PermissionSet, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

// Has reports whether name is in the set.
func (s PermissionSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Names returns the sorted members.
func (s PermissionSet) Names() []string {
	names := make([]string, 0, len(s))
	for n := range s {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Grants is the outcome of resolving a subject once. It answers repeated
// checks within a request without touching the subject again.
type Grants struct {
	Permissions PermissionSet
	Super       bool
}

// Can reports whether the grants include permission.
func (g Grants) Can(permission string) bool {
	if g.Super {
		return true
	}
	return g.Permissions.Has(permission)
}

// CanAny reports whether any of perms is granted. An empty list is allowed.
func (g Grants) CanAny(perms ...string) bool {
	if len(perms) == 0 {
		return true
	}
	for _, p := range perms {
		if g.Can(p) {
			return true
		}
	}
	return false
}

// CanAll reports whether every perm is granted.
func (g Grants) CanAll(perms ...string) bool {
	for _, p := range perms {
		if !g.Can(p) {
			return false
		}
	}
	return true
}

// Authorizer resolves subjects into grants. It holds no per-subject state and
// is safe for concurrent use.
type Authorizer struct {
	superRole string
}

// Option configures an Authorizer.
type Option func(*Authorizer)

// WithSuperRole makes holders of the named role bypass every check.
func WithSuperRole(name string) Option {
	return func(a *Authorizer) {
		a.superRole = name
	}
}

// NewAuthorizer constructs an Authorizer.
func NewAuthorizer(opts ...Option) *Authorizer {
	a := &Authorizer{}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Resolve unions the permissions of the subject's roles with its direct
// permissions. Roles and permissions outside the subject's guard are ignored.
func (a *Authorizer) Resolve(subject Subject) PermissionSet {
	return a.Grants(subject).Permissions
}

// Grants resolves the subject once. Guests resolve to empty grants.
func (a *Authorizer) Grants(subject Subject) Grants {
	if subject == nil || subject.SubjectID() == 0 {
		return Grants{Permissions: PermissionSet{}}
	}
	guard := NormalizeGuard(subject.GuardName())
	set := PermissionSet{}
	super := false
	for _, role := range subject.AssignedRoles() {
		if NormalizeGuard(role.Guard) != guard {
			continue
		}
		if a.superRole != "" && role.Name == a.superRole {
			super = true
		}
		for _, p := range role.Permissions {
			if NormalizeGuard(p.Guard) == guard {
				set[p.Name] = struct{}{}
			}
		}
	}
	for _, p := range subject.DirectPermissions() {
		if NormalizeGuard(p.Guard) == guard {
			set[p.Name] = struct{}{}
		}
	}
	return Grants{Permissions: set, Super: super}
}

// Can reports whether subject holds permission. It never mutates state.
func (a *Authorizer) Can(subject Subject, permission string) bool {
	return a.Grants(subject).Can(permission)
}
