// Package match turns noisy OCR text into a rank tier plus a 0-100
// confidence score.
//
// Two paths, tried in order. The level path scans for a numeric token next
// to a level marker (tolerating common OCR substitutions like "evel" and
// "lvl") and resolves it through the tier table; a hit here always wins,
// since a number is structurally less ambiguous than fuzzy name text. The
// name path falls back to approximate matching of rank names against the
// text tokens, scored by normalized edit distance, and only counts above a
// minimum similarity threshold.
package match

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/agnivade/levenshtein"

	"pool-verifier/internal/constants"
	"pool-verifier/internal/domain"
	"pool-verifier/internal/ranks"
)

// levelPatterns are tried in order; the first capture group is the level.
// OCR frequently drops the leading "l" or reads it as "1" or "|".
var levelPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:l|1|\|)?[e3]v[e3]l\s*(?:progress)?\s*[:.\-]?\s*(\d{1,4})`),
	regexp.MustCompile(`(?i)\blvl\s*[:.\-]?\s*(\d{1,4})`),
	regexp.MustCompile(`(?i)\blv\s*[:.\-]?\s*(\d{1,4})`),
	regexp.MustCompile(`(?i)(\d{1,4})\s*(?:l|1|\|)?[e3]v[e3]l\b`),
}

var tokenSplit = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// Matcher resolves extracted text against a fixed tier table. Pure and
// deterministic given the same table.
type Matcher struct {
	table         *ranks.Table
	minSimilarity float64
}

func New(table *ranks.Table) *Matcher {
	return &Matcher{table: table, minSimilarity: constants.MinNameSimilarity}
}

// Match produces the per-attachment result. IsProfileScreen is left for the
// caller to fill in from the classifier; the matcher only judges rank
// evidence.
func (m *Matcher) Match(extracted domain.ExtractedText) domain.MatchResult {
	if level, ok := m.detectLevel(extracted.Text); ok {
		if tier, found := m.table.ByLevel(level); found {
			return domain.MatchResult{
				Rank:          &tier,
				LevelDetected: level,
				LevelFound:    true,
				Confidence:    combine(constants.LevelPathStrength, extracted.Confidence),
			}
		}
	}

	if tier, similarity, ok := m.matchName(extracted.Text); ok {
		return domain.MatchResult{
			Rank:       &tier,
			Confidence: combine(similarity*100, extracted.Confidence),
		}
	}

	return domain.MatchResult{}
}

// detectLevel returns the first plausible level number found next to a
// level marker.
func (m *Matcher) detectLevel(text string) (int, bool) {
	for _, p := range levelPatterns {
		groups := p.FindStringSubmatch(text)
		if groups == nil {
			continue
		}
		level, err := strconv.Atoi(groups[1])
		if err != nil || level <= 0 {
			continue
		}
		return level, true
	}
	return 0, false
}

// matchName scores every tier name against same-length token windows of the
// text and keeps the best tier at or above the similarity threshold. Ties
// keep the earlier window, so the result is deterministic for a fixed table.
func (m *Matcher) matchName(text string) (domain.RankTier, float64, bool) {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return domain.RankTier{}, 0, false
	}

	var (
		best     domain.RankTier
		bestSim  float64
		bestSeen bool
	)
	for _, tier := range m.table.Tiers() {
		nameTokens := tokenize(tier.Name)
		width := len(nameTokens)
		if width == 0 || width > len(tokens) {
			continue
		}
		name := strings.Join(nameTokens, " ")

		for i := 0; i+width <= len(tokens); i++ {
			window := strings.Join(tokens[i:i+width], " ")
			sim := similarity(name, window)
			if sim >= m.minSimilarity && sim > bestSim {
				best, bestSim, bestSeen = tier, sim, true
			}
		}
	}
	return best, bestSim, bestSeen
}

func tokenize(text string) []string {
	parts := tokenSplit.Split(strings.ToLower(text), -1)
	tokens := parts[:0]
	for _, p := range parts {
		if p != "" {
			tokens = append(tokens, p)
		}
	}
	return tokens
}

// similarity is 1 - dist/maxlen, so identical strings score 1 and disjoint
// strings approach 0.
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 0
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(longest)
}

// combine blends match strength with the OCR engine's own confidence into
// the final 0-100 score.
func combine(strength, ocrConfidence float64) float64 {
	if strength < 0 {
		strength = 0
	}
	if strength > 100 {
		strength = 100
	}
	if ocrConfidence < 0 {
		ocrConfidence = 0
	}
	if ocrConfidence > 100 {
		ocrConfidence = 100
	}
	return constants.ConfidenceMatchWeight*strength + constants.ConfidenceOCRWeight*ocrConfidence
}
