package domain

import "strings"

// Role is one crew role tag.
type Role string

const (
	// RoleArm is the armorer crew, the least-privileged default assigned to
	// users provisioned from an inbound SMS.
	RoleArm Role = "ARM"
	// RoleRef is the referee crew.
	RoleRef Role = "REF"
	// RoleBout is the bout committee.
	RoleBout Role = "BOUT"
)

// RoleList is a comma-joined set of role tags as stored on the user row.
type RoleList string

// Has reports whether the list contains the role.
func (l RoleList) Has(role Role) bool {
	for _, tag := range strings.Split(string(l), ",") {
		if strings.EqualFold(strings.TrimSpace(tag), string(role)) {
			return true
		}
	}
	return false
}

// Add appends a role unless it is already present.
func (l RoleList) Add(role Role) RoleList {
	if l == "" {
		return RoleList(role)
	}
	if l.Has(role) {
		return l
	}
	return l + "," + RoleList(strings.ToUpper(string(role)))
}

// First returns the first role in the list, used as the default crew type when
// a member joins an event without an explicit assignment.
func (l RoleList) First() Role {
	head, _, _ := strings.Cut(string(l), ",")
	return Role(strings.TrimSpace(head))
}
