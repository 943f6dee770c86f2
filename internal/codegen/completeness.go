package codegen

import "strings"

// Predicate is a completeness heuristic: the text must be longer than
// MinLength and contain at least MinMatches of the Required groups. A group
// matches if any of its alternatives is present. Passing means the artifact
// looks plausible, not that it is valid code.
type Predicate struct {
	MinLength  int
	Required   [][]string
	MinMatches int
}

// Matches counts the required groups present in text
func (p Predicate) Matches(text string) int {
	n := 0
	for _, group := range p.Required {
		for _, alt := range group {
			if strings.Contains(text, alt) {
				n++
				break
			}
		}
	}
	return n
}

// Complete reports whether text passes the predicate
func (p Predicate) Complete(text string) bool {
	return len(text) > p.MinLength && p.Matches(text) >= p.MinMatches
}

var (
	backendPredicate = Predicate{
		MinLength:  100,
		Required:   [][]string{{"import"}, {"def "}},
		MinMatches: 2,
	}
	uiPredicate = Predicate{
		MinLength:  100,
		Required:   [][]string{{"API_BASE_URL"}, {"useState"}, {"fetch", "send"}, {"App"}},
		MinMatches: 3,
	}
)

// PredicateFor returns the completeness predicate of an artifact kind
func PredicateFor(kind ArtifactKind) Predicate {
	if kind == KindUI {
		return uiPredicate
	}
	return backendPredicate
}
