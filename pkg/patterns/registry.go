// Package patterns provides the static weighted keyword and entity-format
// tables behind scam detection and intelligence extraction. All regexes are
// compiled once at registry construction and shared across all turns.
//
// Design principles:
// - COMPILE ONCE: All patterns compiled at init, not per-message
// - DATA, NOT CODE: Tables are plain values, overridable from YAML
// - CAPPED SCORING: Each triad dimension saturates at a fixed maximum
// - PRIORITY ORDER: Category tables are checked first-match-wins
package patterns

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Scores holds the per-dimension triad result for one message. Each
// dimension is already capped at its table maximum.
type Scores struct {
	Urgency   float64 `json:"urgency"`
	Authority float64 `json:"authority"`
	Emotion   float64 `json:"emotion"`
	Financial float64 `json:"financial"`
}

// Total returns the raw score, the sum of the four capped dimensions.
func (s Scores) Total() float64 {
	return s.Urgency + s.Authority + s.Emotion + s.Financial
}

// Indicators converts the scores to the indicator names reported in
// response metadata. Each threshold needs more than one weak term match
// before the indicator fires.
func (s Scores) Indicators() []string {
	var indicators []string
	if s.Urgency > 1.0 {
		indicators = append(indicators, "urgency_tactics")
	}
	if s.Authority > 1.0 {
		indicators = append(indicators, "authority_impersonation")
	}
	if s.Emotion > 0.5 {
		indicators = append(indicators, "emotional_manipulation")
	}
	if s.Financial > 0.5 {
		indicators = append(indicators, "financial_request")
	}
	return indicators
}

type compiledTerm struct {
	re     *regexp.Regexp
	weight float64
}

type compiledDimension struct {
	cap   float64
	terms []compiledTerm
}

type compiledCategory struct {
	name  Category
	terms []*regexp.Regexp
}

type bankPattern struct {
	name string
	re   *regexp.Regexp
}

// Registry holds all compiled patterns. Immutable after construction.
type Registry struct {
	mu           sync.RWMutex
	dims         map[Dimension]*compiledDimension
	categories   []*compiledCategory
	entities     map[EntityType]*regexp.Regexp
	upiProviders map[string]string
	bankNames    []bankPattern
	amountRe     *regexp.Regexp
	nameRe       *regexp.Regexp
	maxScore     float64
	termCount    int
}

// global singleton - initialized once at package load
var (
	globalRegistry *Registry
	initOnce       sync.Once
)

// Get returns the global pattern registry built from the compiled-in
// tables (singleton). Thread-safe and guaranteed to be initialized.
// Deployments with a YAML override build their own via Load+NewRegistry.
func Get() *Registry {
	initOnce.Do(func() {
		r, err := NewRegistry(builtinTables())
		if err != nil {
			panic("patterns: builtin tables invalid: " + err.Error())
		}
		globalRegistry = r
	})
	return globalRegistry
}

// NewRegistry compiles a Registry from the given tables. Every required
// section must be present and every pattern must compile; file-loaded
// tables get a descriptive error instead of a panic.
func NewRegistry(t *Tables) (*Registry, error) {
	r := &Registry{
		dims:         make(map[Dimension]*compiledDimension, len(allDimensions)),
		entities:     make(map[EntityType]*regexp.Regexp, len(AllEntityTypes)),
		upiProviders: make(map[string]string, len(t.UPIProviders)),
	}

	for _, d := range allDimensions {
		spec, ok := t.Dimensions[d]
		if !ok || len(spec.Terms) == 0 {
			return nil, fmt.Errorf("pattern tables: dimension %q has no terms", d)
		}
		if spec.Cap <= 0 {
			return nil, fmt.Errorf("pattern tables: dimension %q needs a positive cap", d)
		}
		cd := &compiledDimension{cap: spec.Cap}
		for _, term := range spec.Terms {
			if term.Weight <= 0 {
				return nil, fmt.Errorf("pattern tables: dimension %q term %q needs a positive weight", d, term.Pattern)
			}
			re, err := compileTerm(term.Pattern, term.Raw)
			if err != nil {
				return nil, fmt.Errorf("pattern tables: dimension %q term %q: %w", d, term.Pattern, err)
			}
			cd.terms = append(cd.terms, compiledTerm{re: re, weight: term.Weight})
			r.termCount++
		}
		r.dims[d] = cd
		r.maxScore += spec.Cap
	}

	for _, cs := range t.Categories {
		if cs.Name == CategoryUnknown || cs.Name == "" {
			return nil, fmt.Errorf("pattern tables: %q is the default category, not a table", cs.Name)
		}
		cc := &compiledCategory{name: cs.Name}
		for _, term := range cs.Terms {
			re, err := compileTerm(term, false)
			if err != nil {
				return nil, fmt.Errorf("pattern tables: category %q term %q: %w", cs.Name, term, err)
			}
			cc.terms = append(cc.terms, re)
			r.termCount++
		}
		r.categories = append(r.categories, cc)
	}

	for _, et := range AllEntityTypes {
		src, ok := t.Entities[et]
		if !ok || src == "" {
			return nil, fmt.Errorf("pattern tables: entity %q has no pattern", et)
		}
		re, err := regexp.Compile(src)
		if err != nil {
			return nil, fmt.Errorf("pattern tables: entity %q: %w", et, err)
		}
		r.entities[et] = re
		r.termCount++
	}

	for provider, display := range t.UPIProviders {
		r.upiProviders[strings.ToLower(provider)] = display
	}

	for _, bn := range t.BankNames {
		re, err := regexp.Compile(`(?i)(?:` + bn.Pattern + `)`)
		if err != nil {
			return nil, fmt.Errorf("pattern tables: bank name %q: %w", bn.Name, err)
		}
		r.bankNames = append(r.bankNames, bankPattern{name: bn.Name, re: re})
	}

	var err error
	if r.amountRe, err = regexp.Compile(t.Amount); err != nil {
		return nil, fmt.Errorf("pattern tables: amount: %w", err)
	}
	if r.nameRe, err = regexp.Compile(t.SenderName); err != nil {
		return nil, fmt.Errorf("pattern tables: sender name: %w", err)
	}

	return r, nil
}

// compileTerm compiles a table term. Non-raw terms are matched
// case-insensitively at word boundaries so short keywords do not fire
// inside longer words ("rbi" must not match "forbid").
func compileTerm(pattern string, raw bool) (*regexp.Regexp, error) {
	src := pattern
	if !raw {
		src = `\b(?:` + src + `)\b`
	}
	return regexp.Compile(`(?i)` + src)
}

// Score scans the message against all four dimension tables and returns
// the capped per-dimension sums.
func (r *Registry) Score(text string) Scores {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return Scores{
		Urgency:   r.scoreDimension(DimUrgency, text),
		Authority: r.scoreDimension(DimAuthority, text),
		Emotion:   r.scoreDimension(DimEmotion, text),
		Financial: r.scoreDimension(DimFinancial, text),
	}
}

func (r *Registry) scoreDimension(d Dimension, text string) float64 {
	dim := r.dims[d]
	if dim == nil {
		return 0
	}
	var sum float64
	for _, term := range dim.terms {
		if term.re.MatchString(text) {
			sum += term.weight
		}
	}
	if sum > dim.cap {
		return dim.cap
	}
	return sum
}

// Categorize matches the message against the category tables in priority
// order and returns the first category with any match, or CategoryUnknown.
func (r *Registry) Categorize(text string) Category {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.categories {
		for _, re := range c.terms {
			if re.MatchString(text) {
				return c.name
			}
		}
	}
	return CategoryUnknown
}

// Entity returns the compiled format regex for an entity type, or nil
// for an unknown type.
func (r *Registry) Entity(t EntityType) *regexp.Regexp {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entities[t]
}

// UPIProvider resolves a UPI handle suffix against the provider
// whitelist, returning the display name. Unknown suffixes (most likely
// email domains caught by the permissive handle regex) report false.
func (r *Registry) UPIProvider(suffix string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	display, ok := r.upiProviders[strings.ToLower(suffix)]
	return display, ok
}

// Amounts returns all currency amounts mentioned in the message.
func (r *Registry) Amounts(text string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.amountRe.FindAllString(text, -1)
}

// SenderName returns the first self-introduced name in the message
// ("this is Officer Sharma"), or the empty string.
func (r *Registry) SenderName(text string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m := r.nameRe.FindStringSubmatch(text)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

// BankContext detects which bank the message talks about, for enriching
// extracted account numbers. Returns the upper-cased bank name or "".
func (r *Registry) BankContext(text string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, bn := range r.bankNames {
		if bn.re.MatchString(text) {
			return strings.ToUpper(bn.name)
		}
	}
	return ""
}

// MaxScore returns the maximum possible raw score, the sum of all
// dimension caps. Used to normalize raw scores to a 0-1 confidence.
func (r *Registry) MaxScore() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.maxScore
}

// TotalPatterns returns the total count of compiled patterns.
func (r *Registry) TotalPatterns() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.termCount
}

// CategoryCount returns the number of terms in a category table.
func (r *Registry) CategoryCount(cat Category) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.categories {
		if c.name == cat {
			return len(c.terms)
		}
	}
	return 0
}
