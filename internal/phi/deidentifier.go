package phi

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/miradorstack/mirador-phiguard/internal/correlation"
	"github.com/miradorstack/mirador-phiguard/internal/models"
)

// Deidentifier replaces detected spans with category placeholders. The detector can be
// swapped at runtime; in-flight calls finish on the detector they started with.
type Deidentifier struct {
	detector atomic.Pointer[Detector]
	now      func() time.Time
}

// NewDeidentifier wraps d. A nil detector is replaced by a moderate one with built-in rules.
func NewDeidentifier(d *Detector) *Deidentifier {
	if d == nil {
		d, _ = NewDetector(models.SensitivityModerate, nil)
	}
	x := &Deidentifier{now: time.Now}
	x.detector.Store(d)
	return x
}

// WithClock overrides the event timestamp source.
func (x *Deidentifier) WithClock(now func() time.Time) *Deidentifier {
	x.now = now
	return x
}

// Detector returns the active detector.
func (x *Deidentifier) Detector() *Detector {
	return x.detector.Load()
}

// Swap installs a new detector. Nil is ignored.
func (x *Deidentifier) Swap(d *Detector) {
	if d != nil {
		x.detector.Store(d)
	}
}

// Deidentify returns the cleaned text and one event per replaced span. Event offsets refer to
// the input text. The input is never modified.
func (x *Deidentifier) Deidentify(cc *correlation.Context, text string) (string, []models.RedactionEvent) {
	detections := x.Detector().Detect(text)
	if len(detections) == 0 {
		return text, nil
	}

	ts := x.now().UTC()
	events := make([]models.RedactionEvent, 0, len(detections))
	var b strings.Builder
	b.Grow(len(text))

	cursor := 0
	for _, det := range detections {
		replacement := det.Category.Placeholder()
		b.WriteString(text[cursor:det.Start])
		b.WriteString(replacement)
		cursor = det.End

		events = append(events, models.RedactionEvent{
			CorrelationID: cc.ID(),
			Category:      det.Category,
			Start:         det.Start,
			End:           det.End,
			Confidence:    det.Confidence,
			RuleID:        det.RuleID,
			Replacement:   replacement,
			Timestamp:     ts,
		})
	}
	b.WriteString(text[cursor:])
	return b.String(), events
}

// Scrub returns text with every detection replaced, discarding the events. Used for error
// messages before they reach a log record.
func (x *Deidentifier) Scrub(text string) string {
	cleaned, _ := x.Deidentify(nil, text)
	return cleaned
}
