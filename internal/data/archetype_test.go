package data

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeYaml(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "archetype_list.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadArchetypeTable(t *testing.T) {
	table, err := LoadArchetypeTable(writeYaml(t, `
archetypes:
  - key: idler
    name: 城鎮閒逛者
    class_type: 0
    min_level: 5
    max_level: 15
    map_id: 4
    spawn_x: 33080
    spawn_y: 33392
    weight: 3
    script: idle_town
  - key: hunter
    name: 平原獵人
    class_type: 1
    min_level: 20
    max_level: 40
    map_id: 4
    spawn_x: 33430
    spawn_y: 32814
    script: hunt_field
`))
	require.NoError(t, err)
	assert.Equal(t, 2, table.Count())

	idler := table.Get("idler")
	require.NotNil(t, idler)
	assert.Equal(t, int16(5), idler.MinLevel)
	assert.Equal(t, int32(33080), idler.SpawnX)
	assert.Equal(t, 3.0, idler.Weight)

	hunter := table.Get("hunter")
	require.NotNil(t, hunter)
	assert.Equal(t, 1.0, hunter.Weight, "missing weight defaults to 1")

	assert.Nil(t, table.Get("nope"))
}

func TestLoadRejectsDuplicateKeys(t *testing.T) {
	_, err := LoadArchetypeTable(writeYaml(t, `
archetypes:
  - key: idler
    name: one
  - key: idler
    name: two
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate key")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := LoadArchetypeTable(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestWeightedPick(t *testing.T) {
	table, err := LoadArchetypeTable(writeYaml(t, `
archetypes:
  - key: common
    weight: 3
  - key: rare
    weight: 1
`))
	require.NoError(t, err)

	// total weight 4: rolls land by cumulative share, file order
	assert.Equal(t, "common", table.Pick(0.0).Key)
	assert.Equal(t, "common", table.Pick(0.74).Key)
	assert.Equal(t, "rare", table.Pick(0.76).Key)
	assert.Equal(t, "rare", table.Pick(0.999).Key)
}

func TestPickOnEmptyTable(t *testing.T) {
	table, err := LoadArchetypeTable(writeYaml(t, `archetypes: []`))
	require.NoError(t, err)
	assert.Equal(t, 0, table.Count())
	assert.Nil(t, table.Pick(0.5))
}
