package phi

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-phiguard/internal/models"
	"github.com/miradorstack/mirador-phiguard/internal/utils"
)

//go:embed default_rules.yaml
var defaultRulesYAML []byte

// RulePack is the YAML root of a detection rule pack.
type RulePack struct {
	Exclusions Exclusions `yaml:"exclusions"`
	Rules      []Rule     `yaml:"rules"`
}

// Exclusions feed false-positive suppression for name detection.
type Exclusions struct {
	Terms          []string `yaml:"terms"`
	PrecedingTerms []string `yaml:"preceding_terms"`
	TrailingTerms  []string `yaml:"trailing_terms"`
	Stopwords      []string `yaml:"stopwords"`
}

// Rule is a custom regular-expression matcher.
type Rule struct {
	ID             string   `yaml:"id"`
	Category       string   `yaml:"category"`
	Pattern        string   `yaml:"pattern"`
	Group          int      `yaml:"group"`
	Confidence     float64  `yaml:"confidence"`
	MinSensitivity string   `yaml:"min_sensitivity"`
	RequireDigit   bool     `yaml:"require_digit"`
	Context        []string `yaml:"context"`
	Window         int      `yaml:"window"`
}

// DefaultRulePack returns the built-in exclusion data.
func DefaultRulePack() *RulePack {
	var pack RulePack
	if err := yaml.Unmarshal(defaultRulesYAML, &pack); err != nil {
		panic(fmt.Sprintf("phi: embedded rule pack is invalid: %v", err))
	}
	return &pack
}

// LoadRulePack reads a rule pack from path. An empty path or missing file yields nil.
func LoadRulePack(path string) (*RulePack, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, utils.NewAppError("phi.LoadRulePack", "read rule pack", err)
	}
	return ParseRulePack(data)
}

// ParseRulePack decodes and validates a rule pack document.
func ParseRulePack(data []byte) (*RulePack, error) {
	var pack RulePack
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, utils.NewAppError("phi.ParseRulePack", "decode rule pack", err)
	}
	for i, rule := range pack.Rules {
		if err := rule.validate(); err != nil {
			return nil, utils.NewAppError("phi.ParseRulePack", fmt.Sprintf("rule %d", i), err)
		}
	}
	return &pack, nil
}

// Merge returns a pack holding the entries of p followed by those of other.
func (p *RulePack) Merge(other *RulePack) *RulePack {
	out := &RulePack{}
	for _, src := range []*RulePack{p, other} {
		if src == nil {
			continue
		}
		out.Exclusions.Terms = append(out.Exclusions.Terms, src.Exclusions.Terms...)
		out.Exclusions.PrecedingTerms = append(out.Exclusions.PrecedingTerms, src.Exclusions.PrecedingTerms...)
		out.Exclusions.TrailingTerms = append(out.Exclusions.TrailingTerms, src.Exclusions.TrailingTerms...)
		out.Exclusions.Stopwords = append(out.Exclusions.Stopwords, src.Exclusions.Stopwords...)
		out.Rules = append(out.Rules, src.Rules...)
	}
	return out
}

func (r Rule) validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("missing id")
	}
	if _, ok := models.ParseCategory(r.Category); !ok {
		return fmt.Errorf("%s: unknown category %q", r.ID, r.Category)
	}
	re, err := regexp.Compile(r.Pattern)
	if err != nil {
		return fmt.Errorf("%s: %w", r.ID, err)
	}
	if r.Group < 0 || r.Group > re.NumSubexp() {
		return fmt.Errorf("%s: group %d out of range", r.ID, r.Group)
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("%s: confidence %v outside [0,1]", r.ID, r.Confidence)
	}
	if r.MinSensitivity != "" {
		if _, ok := models.ParseSensitivity(r.MinSensitivity); !ok {
			return fmt.Errorf("%s: unknown sensitivity %q", r.ID, r.MinSensitivity)
		}
	}
	return nil
}

// matcher compiles a validated rule.
func (r Rule) matcher() Matcher {
	category, _ := models.ParseCategory(r.Category)
	level := models.SensitivityMinimal
	if s, ok := models.ParseSensitivity(r.MinSensitivity); ok {
		level = s
	}
	confidence := r.Confidence
	if confidence == 0 {
		confidence = 0.8
	}
	m := &regexMatcher{
		id:         r.ID,
		category:   category,
		re:         regexp.MustCompile(r.Pattern),
		group:      r.Group,
		confidence: confidence,
		minLevel:   level,
		context:    lowerAll(r.Context),
		window:     r.Window,
	}
	if r.RequireDigit {
		m.validate = containsDigit
	}
	return m
}

func lowerAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			out = append(out, v)
		}
	}
	return out
}
