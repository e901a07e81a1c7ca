// ABOUTME: Ordered pattern rules mapping game replies to a closed set of categories
// ABOUTME: Captures remaining cooldown seconds and observed resource counters

package reply

import (
	"regexp"
	"strconv"
	"time"
)

// Category is the outcome of classifying a reply.
type Category int

const (
	// CategoryNone means no rule matched.
	CategoryNone Category = iota
	// CategoryWrongCapability means the agent lacks the capability the ability needs.
	CategoryWrongCapability
	// CategoryNotEligible means the agent's role cannot perform the ability.
	CategoryNotEligible
	CategorySuccess
	CategoryAlready
	CategoryNoResource
	CategoryCooldown
)

func (c Category) String() string {
	switch c {
	case CategoryNone:
		return "none"
	case CategoryWrongCapability:
		return "wrong_capability"
	case CategoryNotEligible:
		return "not_eligible"
	case CategorySuccess:
		return "success"
	case CategoryAlready:
		return "already"
	case CategoryNoResource:
		return "no_resource"
	case CategoryCooldown:
		return "cooldown"
	default:
		return "category(" + strconv.Itoa(int(c)) + ")"
	}
}

// Rule binds a pattern to a category.
type Rule struct {
	Category Category
	Pattern  *regexp.Regexp
}

// DefaultRules returns the built-in rules in priority order.
func DefaultRules() []Rule {
	return []Rule{
		{CategoryWrongCapability, regexp.MustCompile(`(?i)(не являетесь апостолом (этой )?расы|благословение этой расы доступно только)`)},
		{CategoryNotEligible, regexp.MustCompile(`(?i)(не являетесь апостолом|недоступно для вашего класса)`)},
		{CategorySuccess, regexp.MustCompile(`(?i)(на вас наложен|наложено благословение|наложено проклятие|вы воскрешены|вы очищены)`)},
		{CategoryAlready, regexp.MustCompile(`(?i)(на эту цель уже действует такое благословение|нельзя наложить благословение уже имеющейся у цели расы)`)},
		{CategoryNoResource, regexp.MustCompile(`(?i)(требуется голос|голос древних|нет голосов)`)},
		{CategoryCooldown, regexp.MustCompile(`(?i)(социальные эффекты можно накладывать только через определенное время|оставшееся время:\s*\d+\s*сек)`)},
	}
}

var (
	reRemaining = regexp.MustCompile(`(?i)оставшееся время:\s*(\d+)\s*сек`)
	reResource  = regexp.MustCompile(`(?i)голос у (?:апостола|проклинающего|паладина):\s*(\d+)`)
)

// Classification is the result of classifying a batch of new messages.
type Classification struct {
	Category Category
	// Text is the message that decided the category.
	Text string

	Remaining    time.Duration
	HasRemaining bool

	Resource    int
	HasResource bool
}

// Classifier evaluates rules in order.
type Classifier struct {
	rules []Rule
}

// NewClassifier creates a classifier. A nil rule list uses DefaultRules.
func NewClassifier(rules []Rule) *Classifier {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Classifier{rules: rules}
}

// Classify inspects texts (oldest first) and returns the highest-priority match.
func (c *Classifier) Classify(texts []string) Classification {
	var out Classification

	for _, text := range texts {
		if !out.HasRemaining {
			if m := reRemaining.FindStringSubmatch(text); m != nil {
				if secs, err := strconv.Atoi(m[1]); err == nil {
					out.Remaining = time.Duration(secs) * time.Second
					out.HasRemaining = true
				}
			}
		}
		// the latest reading wins
		if m := reResource.FindStringSubmatch(text); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				out.Resource = n
				out.HasResource = true
			}
		}
	}

	for _, rule := range c.rules {
		for _, text := range texts {
			if rule.Pattern.MatchString(text) {
				out.Category = rule.Category
				out.Text = text
				return out
			}
		}
	}
	return out
}
