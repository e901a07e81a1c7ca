// ABOUTME: Table-driven appraisal of successful replies into value tiers
// ABOUTME: Thresholds reproduce the game's percentage and luck tuning

package reply

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/2389/coven-conclave/internal/ability"
)

// Appraisal is the value granted by one successful step.
type Appraisal struct {
	Value    int
	Critical bool
}

// AppraisalTable holds the tuning values for appraisal. The numbers encode game
// balance and should only change together with the game. Percent and luck
// values are matched exactly; the game only ever grants these tiers.
type AppraisalTable struct {
	NormalValue     int
	CriticalValue   int
	CriticalMarkers []string

	PercentCritical int
	PercentNormal   int

	// LuckCritical is the only critical luck value; any other luck is normal.
	LuckCritical int
}

// DefaultAppraisalTable returns the production tuning.
func DefaultAppraisalTable() AppraisalTable {
	return AppraisalTable{
		NormalValue:     100,
		CriticalValue:   150,
		CriticalMarkers: []string{"критическ", "🍀"},
		PercentCritical: 30,
		PercentNormal:   20,
		LuckCritical:    9,
	}
}

var (
	rePercent = regexp.MustCompile(`(\d{1,3})\s*%`)
	reLuck    = regexp.MustCompile(`(?i)удача\s+повышена\s+на\s+(\d{1,3})`)
)

type appraiser struct {
	name  string
	match func(ab ability.Ability) bool
	rate  func(t AppraisalTable, text string) bool
}

// appraisers are tried in order; the first whose match accepts the ability decides.
var appraisers = []appraiser{
	{
		name:  "cleansing",
		match: func(ab ability.Ability) bool { return strings.Contains(ab.Label, "очищение") },
		rate:  AppraisalTable.marked,
	},
	{
		// an exact percent overrides the marker
		name:  "curse",
		match: func(ab ability.Ability) bool { return ab.Role == ability.RoleWarlock },
		rate: func(t AppraisalTable, text string) bool {
			switch n, ok := percent(text); {
			case ok && n == t.PercentCritical:
				return true
			case ok && n == t.PercentNormal:
				return false
			}
			return t.marked(text)
		},
	},
	{
		name:  "luck",
		match: func(ab ability.Ability) bool { return ab.Role == ability.RoleApostle && ab.Key == "у" },
		rate: func(t AppraisalTable, text string) bool {
			if m := reLuck.FindStringSubmatch(text); m != nil {
				n, _ := strconv.Atoi(m[1])
				return n == t.LuckCritical
			}
			return t.marked(text)
		},
	},
	{
		name:  "race",
		match: func(ab ability.Ability) bool { return ab.Gated() },
		rate:  func(AppraisalTable, string) bool { return false },
	},
	{
		name:  "default",
		match: func(ability.Ability) bool { return true },
		rate: func(t AppraisalTable, text string) bool {
			if n, ok := percent(text); ok && n == t.PercentCritical {
				return true
			}
			return t.marked(text)
		},
	},
}

// Appraise rates the reply to a successful ability.
func (t AppraisalTable) Appraise(ab ability.Ability, text string) Appraisal {
	for _, a := range appraisers {
		if !a.match(ab) {
			continue
		}
		if a.rate(t, text) {
			return Appraisal{Value: t.CriticalValue, Critical: true}
		}
		return Appraisal{Value: t.NormalValue}
	}
	return Appraisal{Value: t.NormalValue}
}

func (t AppraisalTable) marked(text string) bool {
	lower := strings.ToLower(text)
	for _, m := range t.CriticalMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func percent(text string) (int, bool) {
	m := rePercent.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	return n, err == nil
}
