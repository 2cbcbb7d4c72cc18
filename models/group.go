package models

import (
	"strings"
	"time"
)

// Capabilities an admin may hold through group membership.
const (
	CapAdjustPoints = "adjust-points"
	CapManageGroups = "manage-groups"
	CapViewStats    = "view-stats"
	CapBackup       = "backup"
)

// AllCapabilities lists every known capability, used for validation and for
// seed admins who implicitly hold all of them.
var AllCapabilities = []string{CapAdjustPoints, CapManageGroups, CapViewStats, CapBackup}

// PermissionGroup maps a named admin role to a capability set. Groups are
// soft-disabled rather than deleted so transaction actor audit fields keep
// meaning after a group is retired.
type PermissionGroup struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Name         string    `gorm:"size:64;uniqueIndex;not null" json:"name"`
	Capabilities string    `gorm:"size:255" json:"capabilities"`
	Disabled     bool      `gorm:"default:false" json:"disabled"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CapabilityList splits the stored CSV capability set.
func (g *PermissionGroup) CapabilityList() []string {
	if g.Capabilities == "" {
		return nil
	}
	parts := strings.Split(g.Capabilities, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// HasCapability reports whether the group grants the capability.
func (g *PermissionGroup) HasCapability(cap string) bool {
	for _, c := range g.CapabilityList() {
		if c == cap {
			return true
		}
	}
	return false
}

// GroupMember links an admin user to a permission group.
type GroupMember struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	GroupID   uint      `gorm:"uniqueIndex:idx_group_member;not null" json:"group_id"`
	AdminID   uint      `gorm:"uniqueIndex:idx_group_member;index;not null" json:"admin_id"`
	CreatedAt time.Time `json:"created_at"`
}
