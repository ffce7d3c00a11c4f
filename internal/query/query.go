// Package query parses the sidebar's free-text filter language into a
// faceted Spec and matches annotations against it.
//
// A query is a whitespace separated list of tokens. Single or double quotes
// keep a phrase together. A token of the form facet:value filters on that
// facet; anything else, including unknown prefixes, is free text matched
// against every field.
package query

import (
	"regexp"
	"strings"
)

type Facet string

const (
	FacetAny   Facet = "any"
	FacetQuote Facet = "quote"
	FacetSince Facet = "since"
	FacetTag   Facet = "tag"
	FacetText  Facet = "text"
	FacetURI   Facet = "uri"
	FacetUser  Facet = "user"
)

// Facets lists every facet in evaluation order.
var Facets = []Facet{FacetAny, FacetQuote, FacetSince, FacetTag, FacetText, FacetURI, FacetUser}

type Operator string

const (
	OpAnd Operator = "and"
	OpOr  Operator = "or"
)

// Term is one value of a facet. since terms are numeric (seconds); the rest
// are text.
type Term struct {
	Text    string  `json:"text,omitempty"`
	Seconds float64 `json:"seconds,omitempty"`
	Numeric bool    `json:"numeric,omitempty"`
}

func TextTerm(value string) Term { return Term{Text: value} }

func SecondsTerm(seconds float64) Term { return Term{Seconds: seconds, Numeric: true} }

type Field struct {
	Terms    []Term   `json:"terms"`
	Operator Operator `json:"operator"`
}

// Spec maps each facet to its terms. A record matches when every facet with
// terms matches.
type Spec map[Facet]Field

// operatorFor returns the operator used to combine a facet's terms. uri and
// user accept any of their terms; every other facet needs all of them.
func operatorFor(facet Facet) Operator {
	switch facet {
	case FacetURI, FacetUser:
		return OpOr
	default:
		return OpAnd
	}
}

// NewSpec returns a Spec with every facet present and empty.
func NewSpec() Spec {
	spec := make(Spec, len(Facets))
	for _, facet := range Facets {
		spec[facet] = Field{Terms: []Term{}, Operator: operatorFor(facet)}
	}
	return spec
}

// Empty reports whether no facet carries a term, in which case filtering is
// equivalent to not filtering at all.
func (s Spec) Empty() bool {
	for _, field := range s {
		if len(field.Terms) > 0 {
			return false
		}
	}
	return true
}

// HasSince reports whether matching depends on the current time.
func (s Spec) HasSince() bool {
	return len(s[FacetSince].Terms) > 0
}

func (s Spec) add(facet Facet, term Term) {
	field, ok := s[facet]
	if !ok {
		field = Field{Operator: operatorFor(facet)}
	}
	field.Terms = append(field.Terms, term)
	s[facet] = field
}

// Clone returns a deep copy so layered filters never alias a shared Spec.
func (s Spec) Clone() Spec {
	out := make(Spec, len(s))
	for facet, field := range s {
		out[facet] = Field{Terms: append([]Term{}, field.Terms...), Operator: field.Operator}
	}
	return out
}

// WithFocusUser layers a focus-filter user beneath the query's own user
// terms.
func (s Spec) WithFocusUser(user string) Spec {
	out := s.Clone()
	if strings.TrimSpace(user) == "" {
		return out
	}
	out.add(FacetUser, TextTerm(user))
	return out
}

var tokenPattern = regexp.MustCompile(`(?:[^\s"']+|"[^"]*"|'[^']*')+`)

// Tokenize splits a query into tokens, keeping quoted phrases whole and
// stripping the quotes around a phrase or a facet value.
func Tokenize(input string) []string {
	matches := tokenPattern.FindAllString(input, -1)
	tokens := make([]string, 0, len(matches))
	for _, token := range matches {
		token = removeSurroundingQuotes(token)
		if colon := strings.Index(token, ":"); colon >= 0 {
			token = token[:colon+1] + removeSurroundingQuotes(token[colon+1:])
		}
		if token != "" {
			tokens = append(tokens, token)
		}
	}
	return tokens
}

func removeSurroundingQuotes(text string) string {
	if len(text) < 2 {
		return text
	}
	first, last := text[0], text[len(text)-1]
	if (first == '"' || first == '\'') && first == last {
		return text[1 : len(text)-1]
	}
	return text
}

// Parse turns a query into a Spec. Unparseable since values and empty facet
// values contribute no term.
func Parse(input string) Spec {
	spec := NewSpec()
	for _, token := range Tokenize(input) {
		facet, value, ok := splitFacet(token)
		if !ok {
			spec.add(FacetAny, TextTerm(token))
			continue
		}
		if value == "" {
			continue
		}
		if facet == FacetSince {
			if seconds, ok := ParseSince(value); ok {
				spec.add(FacetSince, SecondsTerm(seconds))
			}
			continue
		}
		spec.add(facet, TextTerm(value))
	}
	return spec
}

func splitFacet(token string) (Facet, string, bool) {
	colon := strings.Index(token, ":")
	if colon < 0 {
		return "", "", false
	}
	switch facet := Facet(token[:colon]); facet {
	case FacetQuote, FacetSince, FacetTag, FacetText, FacetURI, FacetUser:
		return facet, token[colon+1:], true
	default:
		return "", "", false
	}
}
