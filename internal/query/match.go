package query

import (
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"marginalia/api/internal/store"
)

// Matcher evaluates a Spec against annotations. Terms are normalized once at
// construction.
type Matcher struct {
	spec Spec
	now  time.Time
}

func NewMatcher(spec Spec, now time.Time) *Matcher {
	normalized := make(Spec, len(spec))
	for facet, field := range spec {
		terms := make([]Term, 0, len(field.Terms))
		for _, term := range field.Terms {
			if !term.Numeric {
				term.Text = Normalize(term.Text)
			}
			terms = append(terms, term)
		}
		op := field.Operator
		if op == "" {
			op = operatorFor(facet)
		}
		normalized[facet] = Field{Terms: terms, Operator: op}
	}
	return &Matcher{spec: normalized, now: now}
}

// Active reports whether the matcher filters anything.
func (m *Matcher) Active() bool {
	return m != nil && !m.spec.Empty()
}

// Match reports whether an annotation satisfies every non-empty facet. A nil
// annotation (a placeholder) never matches.
func (m *Matcher) Match(annotation *store.Annotation) bool {
	if annotation == nil {
		return false
	}
	for _, facet := range Facets {
		field := m.spec[facet]
		if len(field.Terms) == 0 {
			continue
		}
		if !m.matchField(facet, field, annotation) {
			return false
		}
	}
	return true
}

func (m *Matcher) matchField(facet Facet, field Field, annotation *store.Annotation) bool {
	var values []string
	if facet != FacetSince {
		values = fieldValues(facet, annotation)
	}
	for _, term := range field.Terms {
		var ok bool
		if facet == FacetSince {
			ok = term.Numeric && m.now.Sub(annotation.Created).Seconds() <= term.Seconds
		} else {
			ok = containsTerm(values, term.Text)
		}
		if field.Operator == OpOr && ok {
			return true
		}
		if field.Operator != OpOr && !ok {
			return false
		}
	}
	return field.Operator != OpOr
}

func fieldValues(facet Facet, annotation *store.Annotation) []string {
	switch facet {
	case FacetQuote:
		return []string{annotation.Quote}
	case FacetTag:
		return annotation.Tags
	case FacetText:
		return []string{annotation.Text}
	case FacetURI:
		return []string{annotation.URI}
	case FacetUser:
		return []string{annotation.User, annotation.UserDisplayName}
	case FacetAny:
		values := []string{annotation.Quote, annotation.Text, annotation.URI, annotation.User, annotation.UserDisplayName}
		return append(values, annotation.Tags...)
	default:
		return nil
	}
}

func containsTerm(values []string, term string) bool {
	for _, value := range values {
		if value == "" {
			continue
		}
		if strings.Contains(Normalize(value), term) {
			return true
		}
	}
	return false
}

// Normalize lower-cases text and strips diacritics so "Café" matches "cafe".
func Normalize(value string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, value)
	if err != nil {
		folded = value
	}
	return strings.ToLower(folded)
}
