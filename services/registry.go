package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/cppla/checkinhub/models"
)

// Registry maps admin users to capability sets through named permission
// groups. Seed admins from configuration hold every capability. Capability
// lookups are read-mostly, so results are cached briefly in process and the
// cache is dropped on any group mutation.
type Registry struct {
	db   *gorm.DB
	seed map[uint]bool

	mu    sync.Mutex
	cache map[uint]capCacheEntry
}

type capCacheEntry struct {
	caps    map[string]bool
	expires time.Time
}

const capCacheTTL = 30 * time.Second

// NewRegistry builds a Registry with the given seed admin ids.
func NewRegistry(db *gorm.DB, seedAdminIDs []uint) *Registry {
	seed := make(map[uint]bool, len(seedAdminIDs))
	for _, id := range seedAdminIDs {
		seed[id] = true
	}
	return &Registry{db: db, seed: seed, cache: map[uint]capCacheEntry{}}
}

// CreateGroup registers a new permission group. Group names are unique;
// unknown capabilities are rejected.
func (r *Registry) CreateGroup(ctx context.Context, name string, caps []string) (*models.PermissionGroup, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidGroupName
	}
	for _, c := range caps {
		if !knownCapability(c) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidCapability, c)
		}
	}

	group := models.PermissionGroup{Name: name, Capabilities: strings.Join(caps, ",")}
	if err := r.db.WithContext(ctx).Create(&group).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrGroupExists
		}
		return nil, storeErr(err)
	}
	r.invalidate()
	return &group, nil
}

// DeleteGroup soft-disables a group and removes its memberships. Historical
// transaction actor fields are untouched: the audit trail stays immutable
// regardless of current group state.
func (r *Registry) DeleteGroup(ctx context.Context, name string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		group, err := findGroup(tx, name)
		if err != nil {
			return err
		}
		group.Disabled = true
		if err := tx.Save(group).Error; err != nil {
			return err
		}
		return tx.Where("group_id = ?", group.ID).Delete(&models.GroupMember{}).Error
	})
	if err != nil {
		return storeErr(err)
	}
	r.invalidate()
	return nil
}

// AddMember adds an admin to a group, idempotently.
func (r *Registry) AddMember(ctx context.Context, groupName string, adminID uint) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		group, err := findGroup(tx, groupName)
		if err != nil {
			return err
		}
		member := models.GroupMember{GroupID: group.ID, AdminID: adminID}
		if err := tx.Create(&member).Error; err != nil && !errors.Is(err, gorm.ErrDuplicatedKey) {
			return err
		}
		return nil
	})
	if err != nil {
		return storeErr(err)
	}
	r.invalidate()
	return nil
}

// RemoveMember removes an admin from a group.
func (r *Registry) RemoveMember(ctx context.Context, groupName string, adminID uint) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		group, err := findGroup(tx, groupName)
		if err != nil {
			return err
		}
		return tx.Where("group_id = ? AND admin_id = ?", group.ID, adminID).
			Delete(&models.GroupMember{}).Error
	})
	if err != nil {
		return storeErr(err)
	}
	r.invalidate()
	return nil
}

// GroupInfo is a group with its current member ids.
type GroupInfo struct {
	models.PermissionGroup
	Members []uint `json:"members"`
}

// ListGroups returns all active groups with their membership.
func (r *Registry) ListGroups(ctx context.Context) ([]GroupInfo, error) {
	var groups []models.PermissionGroup
	if err := r.db.WithContext(ctx).Where("disabled = ?", false).Order("name").Find(&groups).Error; err != nil {
		return nil, storeErr(err)
	}
	out := make([]GroupInfo, 0, len(groups))
	for _, g := range groups {
		var members []uint
		if err := r.db.WithContext(ctx).Model(&models.GroupMember{}).
			Where("group_id = ?", g.ID).
			Pluck("admin_id", &members).Error; err != nil {
			return nil, storeErr(err)
		}
		out = append(out, GroupInfo{PermissionGroup: g, Members: members})
	}
	return out, nil
}

// HasCapability reports whether the admin holds the capability, via seed
// list or any active group they belong to.
func (r *Registry) HasCapability(ctx context.Context, adminID uint, capability string) (bool, error) {
	if r.seed[adminID] {
		return true, nil
	}

	r.mu.Lock()
	if entry, ok := r.cache[adminID]; ok && time.Now().Before(entry.expires) {
		r.mu.Unlock()
		return entry.caps[capability], nil
	}
	r.mu.Unlock()

	caps, err := r.loadCapabilities(ctx, adminID)
	if err != nil {
		return false, err
	}

	r.mu.Lock()
	r.cache[adminID] = capCacheEntry{caps: caps, expires: time.Now().Add(capCacheTTL)}
	r.mu.Unlock()
	return caps[capability], nil
}

func (r *Registry) loadCapabilities(ctx context.Context, adminID uint) (map[string]bool, error) {
	var groups []models.PermissionGroup
	err := r.db.WithContext(ctx).
		Joins("JOIN group_members ON group_members.group_id = permission_groups.id").
		Where("group_members.admin_id = ? AND permission_groups.disabled = ?", adminID, false).
		Find(&groups).Error
	if err != nil {
		return nil, storeErr(err)
	}
	caps := map[string]bool{}
	for _, g := range groups {
		for _, c := range g.CapabilityList() {
			caps[c] = true
		}
	}
	return caps, nil
}

func (r *Registry) invalidate() {
	r.mu.Lock()
	r.cache = map[uint]capCacheEntry{}
	r.mu.Unlock()
}

func findGroup(tx *gorm.DB, name string) (*models.PermissionGroup, error) {
	var group models.PermissionGroup
	if err := tx.Where("name = ? AND disabled = ?", strings.TrimSpace(name), false).
		First(&group).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &group, nil
}

func knownCapability(c string) bool {
	for _, known := range models.AllCapabilities {
		if c == known {
			return true
		}
	}
	return false
}
