package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prodtrack/pkg/rbac"
)

func TestStageTable_OrderAndCount(t *testing.T) {
	stages := Stages()
	require.Len(t, stages, 11)

	for i, st := range stages {
		assert.Equal(t, i+1, st.Order, "stage %s", st.Name)
	}

	assert.Equal(t, StageResearch, FirstStage().Name)
	assert.Equal(t, StageArchive, stages[len(stages)-1].Name)
}

func TestStageTable_WarehouseAppearsTwicePerKind(t *testing.T) {
	// 入库/出库各两轮：零部件一轮、整机一轮，共四个独立的仓储阶段
	keeperStages := 0
	for _, st := range Stages() {
		if st.Role == rbac.RoleWarehouseKeeper {
			keeperStages++
		}
	}
	assert.Equal(t, 4, keeperStages)
}

func TestStageTable_TeamUploadFlags(t *testing.T) {
	teamStages := map[string]bool{
		StageResearch:    true,
		StageEngineering: true,
		StagePurchasing:  true,
		StageProcessing:  true,
		StageAssembly:    true,
	}
	for _, st := range Stages() {
		assert.Equal(t, teamStages[st.Name], st.TeamUpload, "stage %s", st.Name)
	}
}

func TestNextPrevStage(t *testing.T) {
	next, ok := NextStage(StageProcessing)
	require.True(t, ok)
	assert.Equal(t, StageWarehouseInParts, next.Name)

	prev, ok := PrevStage(StageWarehouseInParts)
	require.True(t, ok)
	assert.Equal(t, StageProcessing, prev.Name)

	_, ok = NextStage(StageArchive)
	assert.False(t, ok)

	_, ok = PrevStage(StageResearch)
	assert.False(t, ok)

	_, ok = NextStage("no_such_stage")
	assert.False(t, ok)
}

func TestIsTerminalStage(t *testing.T) {
	assert.True(t, IsTerminalStage(StageArchive))
	assert.False(t, IsTerminalStage(StageWarehouseOutUnit))
	assert.False(t, IsTerminalStage("no_such_stage"))
}
