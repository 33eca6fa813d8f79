// Package authroles provides the concrete RoleMapper adapter (§4.8).
package authroles

import (
	domainauth "github.com/merrymaker/scanner/internal/domain/auth"
)

// StaticRoleMapper checks the admin group first, then the user group,
// otherwise falls back to guest (§4.8). Map is a pure function.
type StaticRoleMapper struct {
	AdminGroup string
	UserGroup  string
}

func (m StaticRoleMapper) Map(groups []string) domainauth.Role {
	for _, g := range groups {
		if m.AdminGroup != "" && g == m.AdminGroup {
			return domainauth.RoleAdmin
		}
	}
	for _, g := range groups {
		if m.UserGroup != "" && g == m.UserGroup {
			return domainauth.RoleUser
		}
	}
	return domainauth.RoleGuest
}
