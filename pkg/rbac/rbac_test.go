package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasPermission(t *testing.T) {
	assert.True(t, HasPermission([]string{RoleApprover}, PermissionDecideProposal))
	assert.True(t, HasPermission([]string{RoleAdmin}, PermissionReplayOutbox))

	assert.False(t, HasPermission([]string{RoleApprover}, PermissionReplayOutbox))
	assert.False(t, HasPermission([]string{RoleResearcher}, PermissionDecideProposal))
	assert.False(t, HasPermission(nil, PermissionDecideProposal))
}

func TestCheckPermission_ReturnsTypedError(t *testing.T) {
	err := CheckPermission([]string{RoleTester}, PermissionScheduleTimelines)
	require.Error(t, err)

	denied, ok := err.(*PermissionDeniedError)
	require.True(t, ok)
	assert.Equal(t, PermissionScheduleTimelines, denied.Permission)

	assert.NoError(t, CheckPermission([]string{RoleApprover}, PermissionScheduleTimelines))
}

func TestIsAdmin(t *testing.T) {
	assert.True(t, IsAdmin([]string{RoleTester, RoleAdmin}))
	assert.False(t, IsAdmin([]string{RoleTester}))
}
