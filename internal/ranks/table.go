// Package ranks holds the static rank-tier table: name, level band and the
// role granted for it. The table is loaded once at startup, validated, and
// read-only afterwards.
package ranks

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"pool-verifier/internal/config"
	"pool-verifier/internal/domain"
)

//go:embed ranks.yaml
var embeddedTable []byte

type tableFile struct {
	Tiers []tierEntry `yaml:"tiers"`
}

type tierEntry struct {
	Name     string `yaml:"name"`
	LevelMin int    `yaml:"level_min"`
	LevelMax int    `yaml:"level_max"`
	RoleID   string `yaml:"role_id"`
}

// Table is the validated set of rank tiers, sorted by LevelMin.
type Table struct {
	tiers  []domain.RankTier
	byName map[string]int
}

// Load builds the table from cfg.RankTablePath when set, otherwise from the
// embedded default.
func Load(cfg *config.Config, logger zerolog.Logger) (*Table, error) {
	data := embeddedTable
	if cfg.RankTablePath != "" {
		var err error
		data, err = os.ReadFile(cfg.RankTablePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read rank table %s: %w", cfg.RankTablePath, err)
		}
	}

	table, err := Parse(data)
	if err != nil {
		return nil, err
	}

	logger.Info().Int("tiers", len(table.tiers)).Msg("rank table loaded")
	return table, nil
}

// Parse decodes and validates a rank table document. Bands must not
// overlap, names must be unique, and every band must have min <= max.
func Parse(data []byte) (*Table, error) {
	var file tableFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse rank table: %w", err)
	}
	if len(file.Tiers) == 0 {
		return nil, fmt.Errorf("rank table has no tiers")
	}

	tiers := make([]domain.RankTier, len(file.Tiers))
	for i, e := range file.Tiers {
		if e.Name == "" {
			return nil, fmt.Errorf("tier %d has no name", i)
		}
		if e.RoleID == "" {
			return nil, fmt.Errorf("tier %q has no role_id", e.Name)
		}
		if e.LevelMin > e.LevelMax {
			return nil, fmt.Errorf("tier %q has level_min %d > level_max %d", e.Name, e.LevelMin, e.LevelMax)
		}
		tiers[i] = domain.RankTier{
			Name:     e.Name,
			LevelMin: e.LevelMin,
			LevelMax: e.LevelMax,
			RoleID:   e.RoleID,
		}
	}

	sort.Slice(tiers, func(i, j int) bool { return tiers[i].LevelMin < tiers[j].LevelMin })

	byName := make(map[string]int, len(tiers))
	for i, t := range tiers {
		key := strings.ToLower(t.Name)
		if _, dup := byName[key]; dup {
			return nil, fmt.Errorf("duplicate tier name %q", t.Name)
		}
		byName[key] = i

		if i > 0 && tiers[i-1].LevelMax >= t.LevelMin {
			return nil, fmt.Errorf("tier %q overlaps tier %q", tiers[i-1].Name, t.Name)
		}
	}

	return &Table{tiers: tiers, byName: byName}, nil
}

// ByName looks a tier up case-insensitively.
func (t *Table) ByName(name string) (domain.RankTier, bool) {
	i, ok := t.byName[strings.ToLower(name)]
	if !ok {
		return domain.RankTier{}, false
	}
	return t.tiers[i], true
}

// ByLevel resolves the tier whose band contains level. Bands never overlap,
// so at most one tier can win.
func (t *Table) ByLevel(level int) (domain.RankTier, bool) {
	for _, tier := range t.tiers {
		if tier.Contains(level) {
			return tier, true
		}
	}
	return domain.RankTier{}, false
}

// Tiers returns the tiers sorted by LevelMin. Callers must not mutate the
// returned slice.
func (t *Table) Tiers() []domain.RankTier {
	return t.tiers
}

// RoleIDs returns every managed rank role, used for mutual exclusivity when
// assigning roles.
func (t *Table) RoleIDs() []string {
	ids := make([]string, len(t.tiers))
	for i, tier := range t.tiers {
		ids[i] = tier.RoleID
	}
	return ids
}
