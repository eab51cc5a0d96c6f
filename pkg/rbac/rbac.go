package rbac

// 角色常量：十一个生产阶段对应的职能角色 + 审批/管理角色
const (
	RoleResearcher      = "researcher"
	RoleEngineer        = "engineer"
	RolePurchaser       = "purchaser"
	RoleMachinist       = "machinist"
	RoleWarehouseKeeper = "warehouse_keeper"
	RoleAssembler       = "assembler"
	RoleTester          = "tester"
	RoleApprover        = "approver"
	RoleAdmin           = "admin"
)

// 权限常量
const (
	PermissionSubmitProposal    = "proposal:submit"
	PermissionDecideProposal    = "proposal:decide"
	PermissionScheduleTimelines = "project:schedule"
	PermissionReplayOutbox      = "outbox:replay"
)

// 角色权限映射：阶段完成/团队上传的权限按阶段角色在 service 层判定，
// 这里只收敛与阶段无关的全局权限。
var rolePermissions = map[string][]string{
	RoleApprover: {
		PermissionSubmitProposal,
		PermissionDecideProposal,
		PermissionScheduleTimelines,
	},
	RoleAdmin: {
		PermissionSubmitProposal,
		PermissionDecideProposal,
		PermissionScheduleTimelines,
		PermissionReplayOutbox,
	},
}

// HasRole 检查角色集合中是否包含指定角色
func HasRole(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsAdmin 检查角色集合是否包含管理员角色
func IsAdmin(roles []string) bool {
	return HasRole(roles, RoleAdmin)
}

// HasPermission 检查角色集合是否具有指定权限
func HasPermission(roles []string, permission string) bool {
	for _, role := range roles {
		for _, p := range rolePermissions[role] {
			if p == permission {
				return true
			}
		}
	}
	return false
}

// CheckPermission 检查角色集合是否具有指定权限（返回错误便于处理）
func CheckPermission(roles []string, permission string) error {
	if !HasPermission(roles, permission) {
		return &PermissionDeniedError{Permission: permission}
	}
	return nil
}

// PermissionDeniedError 表示权限不足的错误
type PermissionDeniedError struct {
	Permission string
}

func (e *PermissionDeniedError) Error() string {
	return "insufficient permissions"
}
