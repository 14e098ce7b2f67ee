package archive

import (
	"fmt"
	"strings"
)

// Waiting is the sentinel rating meaning "not yet classified".
const Waiting = "Waiting"

// WaitingRating is the rating pair assigned to freshly ingested content.
var WaitingRating = Rating{Content: Waiting, Safety: Waiting}

// Rating is a (content, safety) classification pair.
type Rating struct {
	Content string `json:"content"`
	Safety  string `json:"safety"`
}

// IsWaiting reports whether r is the unclassified sentinel pair.
func (r Rating) IsWaiting() bool {
	return r == WaitingRating
}

// String renders the pair as "content/safety".
func (r Rating) String() string {
	return r.Content + "/" + r.Safety
}

// Axis names one half of a rating pair.
type Axis string

// Rating axes.
const (
	AxisContent Axis = "Content"
	AxisSafety  Axis = "Safety"
)

// ParseAxis accepts the axis name case-insensitively.
func ParseAxis(raw string) (Axis, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "content":
		return AxisContent, nil
	case "safety":
		return AxisSafety, nil
	default:
		return "", fmt.Errorf("unknown rating axis %q", raw)
	}
}

// Vocabulary is the operator-configured closed set of rating values.
// The Waiting sentinel is never part of either list.
type Vocabulary struct {
	Content []string
	Safety  []string
}

// Canonical returns the configured spelling of value on the given axis.
// Matching is case-insensitive; the sentinel never matches.
func (v Vocabulary) Canonical(axis Axis, value string) (string, bool) {
	value = strings.TrimSpace(value)
	if value == "" || strings.EqualFold(value, Waiting) {
		return "", false
	}
	var set []string
	switch axis {
	case AxisContent:
		set = v.Content
	case AxisSafety:
		set = v.Safety
	}
	for _, candidate := range set {
		if strings.EqualFold(candidate, value) {
			return candidate, true
		}
	}
	return "", false
}

// Pairs lists every directory pair the archive may use, sentinel included.
func (v Vocabulary) Pairs() []Rating {
	content := append([]string{Waiting}, v.Content...)
	safety := append([]string{Waiting}, v.Safety...)
	pairs := make([]Rating, 0, len(content)*len(safety))
	for _, c := range content {
		for _, s := range safety {
			pairs = append(pairs, Rating{Content: c, Safety: s})
		}
	}
	return pairs
}

// Valid reports whether r is the sentinel pair or a pair drawn from the vocabulary.
func (v Vocabulary) Valid(r Rating) bool {
	if r.IsWaiting() {
		return true
	}
	c, okC := v.Canonical(AxisContent, r.Content)
	s, okS := v.Canonical(AxisSafety, r.Safety)
	if !okC && r.Content == Waiting {
		c, okC = Waiting, true
	}
	if !okS && r.Safety == Waiting {
		s, okS = Waiting, true
	}
	return okC && okS && c == r.Content && s == r.Safety
}
