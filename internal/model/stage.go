package model

import "prodtrack/pkg/rbac"

// 阶段名称常量：十一个固定顺序的生产阶段。
// 入库/出库各出现两次（零部件一轮、整机一轮），必须作为独立阶段建模。
const (
	StageResearch          = "research_development"
	StageEngineering       = "engineering"
	StagePurchasing        = "purchasing"
	StageProcessing        = "processing"
	StageWarehouseInParts  = "warehouse_in_parts"
	StageWarehouseOutParts = "warehouse_out_parts"
	StageAssembly          = "assembly"
	StageTesting           = "testing"
	StageWarehouseInUnit   = "warehouse_in_unit"
	StageWarehouseOutUnit  = "warehouse_out_unit"
	StageArchive           = "archive"
)

// StageInfo 描述一个阶段的静态属性：顺序、负责角色、是否支持团队上传、通知文案。
// 整个状态机由这张表驱动，不存在按阶段展开的分支逻辑。
type StageInfo struct {
	Name       string
	Order      int
	Role       string
	TeamUpload bool
	Title      string
}

var stageTable = []StageInfo{
	{StageResearch, 1, rbac.RoleResearcher, true, "研发设计"},
	{StageEngineering, 2, rbac.RoleEngineer, true, "工程设计"},
	{StagePurchasing, 3, rbac.RolePurchaser, true, "物资采购"},
	{StageProcessing, 4, rbac.RoleMachinist, true, "零件加工"},
	{StageWarehouseInParts, 5, rbac.RoleWarehouseKeeper, false, "零部件入库"},
	{StageWarehouseOutParts, 6, rbac.RoleWarehouseKeeper, false, "零部件出库"},
	{StageAssembly, 7, rbac.RoleAssembler, true, "总装"},
	{StageTesting, 8, rbac.RoleTester, false, "整机测试"},
	{StageWarehouseInUnit, 9, rbac.RoleWarehouseKeeper, false, "整机入库"},
	{StageWarehouseOutUnit, 10, rbac.RoleWarehouseKeeper, false, "整机出库确认"},
	{StageArchive, 11, rbac.RoleAdmin, false, "项目归档"},
}

var stageByName = func() map[string]StageInfo {
	m := make(map[string]StageInfo, len(stageTable))
	for _, s := range stageTable {
		m[s.Name] = s
	}
	return m
}()

// Stages 返回按顺序排列的全部阶段
func Stages() []StageInfo {
	out := make([]StageInfo, len(stageTable))
	copy(out, stageTable)
	return out
}

// StageByName 按名称查找阶段，第二个返回值表示是否存在
func StageByName(name string) (StageInfo, bool) {
	s, ok := stageByName[name]
	return s, ok
}

// FirstStage 返回第一个阶段
func FirstStage() StageInfo {
	return stageTable[0]
}

// NextStage 返回给定阶段的下一个阶段；终点阶段返回 false
func NextStage(name string) (StageInfo, bool) {
	s, ok := stageByName[name]
	if !ok || s.Order >= len(stageTable) {
		return StageInfo{}, false
	}
	return stageTable[s.Order], true
}

// PrevStage 返回给定阶段的前一个阶段；第一个阶段返回 false
func PrevStage(name string) (StageInfo, bool) {
	s, ok := stageByName[name]
	if !ok || s.Order <= 1 {
		return StageInfo{}, false
	}
	return stageTable[s.Order-2], true
}

// IsTerminalStage 判断是否为终点（归档）阶段
func IsTerminalStage(name string) bool {
	s, ok := stageByName[name]
	return ok && s.Order == len(stageTable)
}

// StageCount 阶段总数
func StageCount() int {
	return len(stageTable)
}
