// Package phi detects and redacts personally identifying content in free text.
package phi

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/miradorstack/mirador-phiguard/internal/models"
)

var placeholderPattern = func() *regexp.Regexp {
	tokens := make([]string, 0, len(models.Categories()))
	for _, c := range models.Categories() {
		tokens = append(tokens, regexp.QuoteMeta(c.Placeholder()))
	}
	return regexp.MustCompile(strings.Join(tokens, "|"))
}()

// Detector runs a fixed, ordered set of matchers at one sensitivity level. It holds no
// mutable state and is safe for concurrent use.
type Detector struct {
	sensitivity models.Sensitivity
	threshold   float64
	matchers    []Matcher
}

// NewDetector builds a detector from the built-in matchers plus the pack's custom rules.
// A nil pack uses the built-in exclusion data.
func NewDetector(sensitivity models.Sensitivity, pack *RulePack) (*Detector, error) {
	if sensitivity < models.SensitivityMinimal || sensitivity > models.SensitivityStrict {
		return nil, fmt.Errorf("phi: invalid sensitivity %d", sensitivity)
	}
	if pack == nil {
		pack = DefaultRulePack()
	}

	matchers := builtinMatchers(newExclusionSet(pack.Exclusions))
	for i, rule := range pack.Rules {
		if err := rule.validate(); err != nil {
			return nil, fmt.Errorf("phi: rule %d: %w", i, err)
		}
		matchers = append(matchers, rule.matcher())
	}

	return &Detector{
		sensitivity: sensitivity,
		threshold:   sensitivity.ConfidenceThreshold(),
		matchers:    matchers,
	}, nil
}

// LoadDetector builds a detector from the built-in data merged with the rule pack at path.
func LoadDetector(sensitivity models.Sensitivity, path string) (*Detector, error) {
	pack, err := LoadRulePack(path)
	if err != nil {
		return nil, err
	}
	return NewDetector(sensitivity, DefaultRulePack().Merge(pack))
}

// Sensitivity returns the level the detector was built for.
func (d *Detector) Sensitivity() models.Sensitivity { return d.sensitivity }

// Matchers returns the matchers active at the detector's sensitivity.
func (d *Detector) Matchers() []Matcher {
	active := make([]Matcher, 0, len(d.matchers))
	for _, m := range d.matchers {
		if m.MinSensitivity() <= d.sensitivity {
			active = append(active, m)
		}
	}
	return active
}

// Detect returns non-overlapping detections ordered by start offset. Text already holding
// placeholder tokens is never re-detected.
func (d *Detector) Detect(text string) []models.Detection {
	if d == nil || text == "" {
		return nil
	}

	protected := placeholderPattern.FindAllStringIndex(text, -1)
	var candidates []models.Detection
	for _, m := range d.Matchers() {
		for _, det := range m.Find(text) {
			if det.Confidence < d.threshold || det.Len() <= 0 {
				continue
			}
			if overlapsProtected(det, protected) {
				continue
			}
			candidates = append(candidates, det)
		}
	}
	return resolveOverlaps(candidates)
}

func overlapsProtected(det models.Detection, protected [][]int) bool {
	for _, p := range protected {
		if det.Start < p[1] && p[0] < det.End {
			return true
		}
	}
	return false
}

// resolveOverlaps first merges overlapping detections of the same category into their union,
// then keeps the highest-confidence detection of each remaining overlapping group, preferring
// longer then earlier spans on ties.
func resolveOverlaps(candidates []models.Detection) []models.Detection {
	if len(candidates) == 0 {
		return nil
	}
	candidates = mergeSameCategory(candidates)
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if a.Len() != b.Len() {
			return a.Len() > b.Len()
		}
		return a.Start < b.Start
	})

	kept := make([]models.Detection, 0, len(candidates))
	for _, c := range candidates {
		clash := false
		for _, k := range kept {
			if c.Overlaps(k) {
				clash = true
				break
			}
		}
		if !clash {
			kept = append(kept, c)
		}
	}

	sort.Slice(kept, func(i, j int) bool { return kept[i].Start < kept[j].Start })
	return kept
}

// mergeSameCategory joins overlapping spans of one category so no part of a partially
// overlapping candidate is left unredacted. The merged span carries the highest confidence
// and that detection's rule id.
func mergeSameCategory(candidates []models.Detection) []models.Detection {
	sorted := append([]models.Detection(nil), candidates...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Category != sorted[j].Category {
			return sorted[i].Category < sorted[j].Category
		}
		return sorted[i].Start < sorted[j].Start
	})

	merged := make([]models.Detection, 0, len(sorted))
	for _, c := range sorted {
		if n := len(merged); n > 0 && merged[n-1].Category == c.Category && c.Start < merged[n-1].End {
			last := &merged[n-1]
			if c.End > last.End {
				last.End = c.End
			}
			if c.Confidence > last.Confidence {
				last.Confidence = c.Confidence
				last.RuleID = c.RuleID
			}
			continue
		}
		merged = append(merged, c)
	}
	return merged
}
