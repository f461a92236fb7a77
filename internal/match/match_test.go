package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pool-verifier/internal/domain"
	"pool-verifier/internal/ranks"
)

func testMatcher(t *testing.T) *Matcher {
	t.Helper()
	table, err := ranks.Parse([]byte(`
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
  - name: Grand Master
    level_min: 100
    level_max: 249
    role_id: "400"
`))
	require.NoError(t, err)
	return New(table)
}

func TestMatch_LevelPath(t *testing.T) {
	m := testMatcher(t)

	res := m.Match(domain.ExtractedText{Text: "Profile Level Progress 42 Rank: Silver", Confidence: 90})
	require.NotNil(t, res.Rank)
	assert.Equal(t, "Silver", res.Rank.Name)
	assert.Equal(t, 42, res.LevelDetected)
	assert.True(t, res.LevelFound)
	assert.InDelta(t, 96, res.Confidence, 0.01)
}

func TestMatch_LevelPathOCRSubstitutions(t *testing.T) {
	m := testMatcher(t)

	tests := []struct {
		name string
		text string
	}{
		{"dropped leading l", "evel Progress 42"},
		{"leading one", "1evel 42"},
		{"lvl", "lvl: 42"},
		{"lv", "Lv 42"},
		{"number first", "42 Level"},
		{"three for e", "L3vel 42"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := m.Match(domain.ExtractedText{Text: tt.text, Confidence: 80})
			require.NotNil(t, res.Rank, "text %q", tt.text)
			assert.Equal(t, "Silver", res.Rank.Name)
			assert.Equal(t, 42, res.LevelDetected)
		})
	}
}

// When the text carries both a readable level and a conflicting rank name,
// the level wins: numbers are structurally less ambiguous than fuzzy text.
func TestMatch_LevelPathBeatsNamePath(t *testing.T) {
	m := testMatcher(t)

	res := m.Match(domain.ExtractedText{Text: "Level 42 Rank: Gold", Confidence: 90})
	require.NotNil(t, res.Rank)
	assert.Equal(t, "Silver", res.Rank.Name)
	assert.True(t, res.LevelFound)
}

func TestMatch_NamePathExact(t *testing.T) {
	m := testMatcher(t)

	res := m.Match(domain.ExtractedText{Text: "Rank: Gold", Confidence: 70})
	require.NotNil(t, res.Rank)
	assert.Equal(t, "Gold", res.Rank.Name)
	assert.False(t, res.LevelFound)
	assert.Equal(t, 0, res.LevelDetected)
	assert.InDelta(t, 88, res.Confidence, 0.01)
}

func TestMatch_NamePathFuzzy(t *testing.T) {
	m := testMatcher(t)

	// OCR misread: "1" for "i".
	res := m.Match(domain.ExtractedText{Text: "Rank S1lver", Confidence: 60})
	require.NotNil(t, res.Rank)
	assert.Equal(t, "Silver", res.Rank.Name)
}

func TestMatch_NamePathMultiWordTier(t *testing.T) {
	m := testMatcher(t)

	res := m.Match(domain.ExtractedText{Text: "current rank grand master keep playing", Confidence: 85})
	require.NotNil(t, res.Rank)
	assert.Equal(t, "Grand Master", res.Rank.Name)
}

func TestMatch_NoMatch(t *testing.T) {
	m := testMatcher(t)

	tests := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"unrelated", "completely unrelated words here"},
		{"too dissimilar", "Rank: Zzzzzz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := m.Match(domain.ExtractedText{Text: tt.text, Confidence: 95})
			assert.Nil(t, res.Rank)
			assert.Zero(t, res.Confidence)
		})
	}
}

// A level outside every band must not resolve through the level path; the
// matcher falls back to names, and with no name evidence returns no match.
func TestMatch_LevelOutsideAllBands(t *testing.T) {
	m := testMatcher(t)

	res := m.Match(domain.ExtractedText{Text: "Level 999", Confidence: 95})
	assert.Nil(t, res.Rank)

	res = m.Match(domain.ExtractedText{Text: "Level 999 Rank Gold", Confidence: 95})
	require.NotNil(t, res.Rank)
	assert.Equal(t, "Gold", res.Rank.Name)
	assert.False(t, res.LevelFound)
}

// Whenever the level path wins, the detected level sits inside the winning
// tier's band.
func TestMatch_LevelInsideWinningBand(t *testing.T) {
	m := testMatcher(t)

	for _, text := range []string{"Level 10", "Level 29", "Level 30", "lvl 77", "Level 249"} {
		res := m.Match(domain.ExtractedText{Text: text, Confidence: 90})
		require.NotNil(t, res.Rank, "text %q", text)
		require.True(t, res.LevelFound)
		assert.True(t, res.Rank.Contains(res.LevelDetected), "text %q", text)
		assert.Greater(t, res.Confidence, 0.0)
	}
}

func TestMatch_Deterministic(t *testing.T) {
	m := testMatcher(t)

	in := domain.ExtractedText{Text: "Level Progress 42 Rank Silver", Confidence: 88}
	first := m.Match(in)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, m.Match(in))
	}
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, similarity("gold", "gold"))
	assert.InDelta(t, 0.833, similarity("silver", "s1lver"), 0.001)
	assert.Less(t, similarity("gold", "zzzz"), 0.3)
}
