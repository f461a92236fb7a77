package ranks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTable(t *testing.T) *Table {
	t.Helper()
	table, err := Parse([]byte(`
tiers:
  - name: Bronze
    level_min: 10
    level_max: 29
    role_id: "100"
  - name: Silver
    level_min: 30
    level_max: 59
    role_id: "200"
  - name: Gold
    level_min: 60
    level_max: 99
    role_id: "300"
`))
	require.NoError(t, err)
	return table
}

func TestParse_Valid(t *testing.T) {
	table := validTable(t)
	assert.Len(t, table.Tiers(), 3)
	assert.Equal(t, []string{"100", "200", "300"}, table.RoleIDs())
}

func TestParse_RejectsOverlap(t *testing.T) {
	_, err := Parse([]byte(`
tiers:
  - name: Bronze
    level_min: 10
    level_max: 35
    role_id: "100"
  - name: Silver
    level_min: 30
    level_max: 59
    role_id: "200"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overlaps")
}

func TestParse_RejectsInvertedBand(t *testing.T) {
	_, err := Parse([]byte(`
tiers:
  - name: Bronze
    level_min: 30
    level_max: 10
    role_id: "100"
`))
	require.Error(t, err)
}

func TestParse_RejectsDuplicateNames(t *testing.T) {
	_, err := Parse([]byte(`
tiers:
  - name: Bronze
    level_min: 10
    level_max: 29
    role_id: "100"
  - name: bronze
    level_min: 30
    level_max: 59
    role_id: "200"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestParse_RejectsEmptyTable(t *testing.T) {
	_, err := Parse([]byte(`tiers: []`))
	require.Error(t, err)
}

func TestByName_CaseInsensitive(t *testing.T) {
	table := validTable(t)

	tier, ok := table.ByName("SILVER")
	require.True(t, ok)
	assert.Equal(t, "Silver", tier.Name)
	assert.Equal(t, 30, tier.LevelMin)

	_, ok = table.ByName("Platinum")
	assert.False(t, ok)
}

func TestByLevel(t *testing.T) {
	table := validTable(t)

	tests := []struct {
		level int
		want  string
		found bool
	}{
		{10, "Bronze", true},
		{29, "Bronze", true},
		{30, "Silver", true},
		{42, "Silver", true},
		{99, "Gold", true},
		{9, "", false},
		{100, "", false},
	}
	for _, tt := range tests {
		tier, ok := table.ByLevel(tt.level)
		assert.Equal(t, tt.found, ok, "level %d", tt.level)
		if tt.found {
			assert.Equal(t, tt.want, tier.Name, "level %d", tt.level)
		}
	}
}

func TestByLevel_AtMostOneTierPerLevel(t *testing.T) {
	table := validTable(t)
	for level := 0; level <= 120; level++ {
		matches := 0
		for _, tier := range table.Tiers() {
			if tier.Contains(level) {
				matches++
			}
		}
		assert.LessOrEqual(t, matches, 1, "level %d", level)
	}
}
