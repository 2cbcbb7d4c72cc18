package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cppla/checkinhub/models"
)

func TestCreateGroupRejectsDuplicatesAndUnknownCaps(t *testing.T) {
	db := newTestDB(t)
	reg := NewRegistry(db, nil)
	ctx := context.Background()

	group, err := reg.CreateGroup(ctx, "moderators", []string{models.CapAdjustPoints, models.CapViewStats})
	require.NoError(t, err)
	assert.Equal(t, "moderators", group.Name)
	assert.ElementsMatch(t, []string{models.CapAdjustPoints, models.CapViewStats}, group.CapabilityList())

	_, err = reg.CreateGroup(ctx, "moderators", []string{models.CapViewStats})
	assert.ErrorIs(t, err, ErrGroupExists)

	_, err = reg.CreateGroup(ctx, "bad", []string{"launch-missiles"})
	assert.ErrorIs(t, err, ErrInvalidCapability)

	_, err = reg.CreateGroup(ctx, "  ", nil)
	assert.ErrorIs(t, err, ErrInvalidGroupName)
}

func TestMembershipGrantsCapability(t *testing.T) {
	db := newTestDB(t)
	reg := NewRegistry(db, nil)
	ctx := context.Background()

	_, err := reg.CreateGroup(ctx, "moderators", []string{models.CapAdjustPoints})
	require.NoError(t, err)

	ok, err := reg.HasCapability(ctx, 42, models.CapAdjustPoints)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, reg.AddMember(ctx, "moderators", 42))
	// Adding twice is a no-op.
	require.NoError(t, reg.AddMember(ctx, "moderators", 42))

	ok, err = reg.HasCapability(ctx, 42, models.CapAdjustPoints)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = reg.HasCapability(ctx, 42, models.CapManageGroups)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, reg.RemoveMember(ctx, "moderators", 42))
	ok, err = reg.HasCapability(ctx, 42, models.CapAdjustPoints)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSeedAdminHoldsEverything(t *testing.T) {
	db := newTestDB(t)
	reg := NewRegistry(db, []uint{7})
	ctx := context.Background()

	for _, c := range models.AllCapabilities {
		ok, err := reg.HasCapability(ctx, 7, c)
		require.NoError(t, err)
		assert.True(t, ok, c)
	}
}

func TestDeleteGroupRevokesMembers(t *testing.T) {
	db := newTestDB(t)
	reg := NewRegistry(db, nil)
	ctx := context.Background()

	_, err := reg.CreateGroup(ctx, "backup-ops", []string{models.CapBackup})
	require.NoError(t, err)
	require.NoError(t, reg.AddMember(ctx, "backup-ops", 11))

	ok, err := reg.HasCapability(ctx, 11, models.CapBackup)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, reg.DeleteGroup(ctx, "backup-ops"))

	ok, err = reg.HasCapability(ctx, 11, models.CapBackup)
	require.NoError(t, err)
	assert.False(t, ok)

	groups, err := reg.ListGroups(ctx)
	require.NoError(t, err)
	assert.Empty(t, groups)

	// The name is also gone for membership operations.
	assert.ErrorIs(t, reg.AddMember(ctx, "backup-ops", 11), ErrNotFound)
}

func TestListGroupsReportsMembers(t *testing.T) {
	db := newTestDB(t)
	reg := NewRegistry(db, nil)
	ctx := context.Background()

	_, err := reg.CreateGroup(ctx, "stats", []string{models.CapViewStats})
	require.NoError(t, err)
	_, err = reg.CreateGroup(ctx, "admins", []string{models.CapManageGroups, models.CapAdjustPoints})
	require.NoError(t, err)
	require.NoError(t, reg.AddMember(ctx, "stats", 3))
	require.NoError(t, reg.AddMember(ctx, "stats", 5))

	groups, err := reg.ListGroups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "admins", groups[0].Name)
	assert.Equal(t, "stats", groups[1].Name)
	assert.ElementsMatch(t, []uint{3, 5}, groups[1].Members)
}

func TestCapabilityCacheDropsOnMutation(t *testing.T) {
	db := newTestDB(t)
	reg := NewRegistry(db, nil)
	ctx := context.Background()

	_, err := reg.CreateGroup(ctx, "moderators", []string{models.CapAdjustPoints})
	require.NoError(t, err)

	// Prime the cache with a negative result, then mutate membership; the
	// next lookup must see the new grant immediately.
	ok, err := reg.HasCapability(ctx, 42, models.CapAdjustPoints)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, reg.AddMember(ctx, "moderators", 42))

	ok, err = reg.HasCapability(ctx, 42, models.CapAdjustPoints)
	require.NoError(t, err)
	assert.True(t, ok)
}
