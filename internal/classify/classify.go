// Package classify decides whether OCR text came from a profile screen.
//
// The rules are a data-driven table split into two kinds: disqualifying
// patterns (menu and banner markers) and qualifying patterns (profile
// markers). Disqualifying rules are always evaluated first: a menu screen is
// never a profile even if it happens to contain profile-looking substrings,
// and ambiguous text resolves to the non-profile outcome.
package classify

import "regexp"

type RuleKind int

const (
	Disqualifying RuleKind = iota
	Qualifying
)

// Rule is one pattern in the classifier table.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
	Kind    RuleKind
}

// defaultRules covers the 8 Ball Pool screens seen in practice. Menu markers
// come from the title screen and lobby; profile markers are the level
// progress widget, the rank label, the unique ID footer and the stats panel.
var defaultRules = []Rule{
	{Name: "title-banner", Pattern: regexp.MustCompile(`(?i)8\s*ball\s*pool\s*by\s*miniclip`), Kind: Disqualifying},
	{Name: "menu-play-special", Pattern: regexp.MustCompile(`(?i)play\s*special`), Kind: Disqualifying},
	{Name: "menu-play-friends", Pattern: regexp.MustCompile(`(?i)play\s*(?:with\s*)?friends`), Kind: Disqualifying},
	{Name: "menu-play-minigames", Pattern: regexp.MustCompile(`(?i)play\s*minigames`), Kind: Disqualifying},
	{Name: "menu-play-online", Pattern: regexp.MustCompile(`(?i)play\s*(?:1\s*on\s*1|online)`), Kind: Disqualifying},
	{Name: "menu-sign-in", Pattern: regexp.MustCompile(`(?i)sign\s*in\s*with`), Kind: Disqualifying},
	{Name: "menu-daily-spin", Pattern: regexp.MustCompile(`(?i)(?:daily\s*)?spin\s*(?:&|and)\s*win`), Kind: Disqualifying},

	{Name: "level-marker", Pattern: regexp.MustCompile(`(?i)(?:l|1|\|)?[e3]v[e3]l\s*(?:progress)?`), Kind: Qualifying},
	{Name: "level-abbrev", Pattern: regexp.MustCompile(`(?i)\blvl\b`), Kind: Qualifying},
	{Name: "rank-label", Pattern: regexp.MustCompile(`(?i)\brank\b`), Kind: Qualifying},
	{Name: "unique-id", Pattern: regexp.MustCompile(`(?i)unique\s*id`), Kind: Qualifying},
	{Name: "player-stats", Pattern: regexp.MustCompile(`(?i)player\s*stat|games\s*won|win\s*streak`), Kind: Qualifying},
}

// Classifier applies a fixed rule table to extracted text.
type Classifier struct {
	disqualifying []Rule
	qualifying    []Rule
}

// New builds a classifier over the default rule table.
func New() *Classifier {
	return NewWithRules(defaultRules)
}

// NewWithRules builds a classifier over a custom table. The two-phase
// evaluation order holds regardless of how the rules are interleaved.
func NewWithRules(rules []Rule) *Classifier {
	c := &Classifier{}
	for _, r := range rules {
		if r.Kind == Disqualifying {
			c.disqualifying = append(c.disqualifying, r)
		} else {
			c.qualifying = append(c.qualifying, r)
		}
	}
	return c
}

// Classify reports whether text looks like a profile screen. Any
// disqualifying hit rejects immediately; otherwise at least one qualifying
// hit is required. Absence of evidence means rejection.
func (c *Classifier) Classify(text string) bool {
	for _, r := range c.disqualifying {
		if r.Pattern.MatchString(text) {
			return false
		}
	}
	for _, r := range c.qualifying {
		if r.Pattern.MatchString(text) {
			return true
		}
	}
	return false
}

// MatchedRules returns the names of every rule matching text, in table
// order. Used for debug logging of classification decisions.
func (c *Classifier) MatchedRules(text string) []string {
	var names []string
	for _, r := range c.disqualifying {
		if r.Pattern.MatchString(text) {
			names = append(names, r.Name)
		}
	}
	for _, r := range c.qualifying {
		if r.Pattern.MatchString(text) {
			names = append(names, r.Name)
		}
	}
	return names
}
