package requirements

import (
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"botforge/internal/logging"
)

const (
	keywordWeight = 1
	patternWeight = 3

	// ChatbotThreshold is the chatbot score that wins regardless of the CRUD score
	ChatbotThreshold = 6
)

var chatbotKeywords = []string{
	"chatbot", "chat bot", "chat", "bot", "conversational", "conversation",
	"assistant", "persona", "personality", "reply", "replies", "respond",
	"responds", "answer", "answers", "faq", "tutor", "companion", "explain",
	"explains", "talk", "dialogue",
}

var crudKeywords = []string{
	"crud", "database", "db", "table", "tables", "record", "records",
	"entity", "entities", "inventory", "manage", "management", "track",
	"tracking", "rest", "api", "endpoint", "endpoints", "sql", "schema",
	"create", "read", "update", "delete", "list", "store", "admin",
	"unique constraint", "foreign key", "crud app",
}

// Specification-document idioms weigh more than single keywords.
var (
	chatbotPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\btone\s*:`),
		regexp.MustCompile(`(?i)\b(?:max(?:imum)?|at most|no more than|up to)\s+\d+\s+sentences?\b`),
		regexp.MustCompile(`(?i)\bmemory\s*:`),
		regexp.MustCompile(`(?i)\bpersonality\s*:`),
		regexp.MustCompile(`(?i)\btraits?\s*:`),
		regexp.MustCompile(`(?i)\bpersona\s*:`),
	}
	crudPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bentities\s*:`),
		regexp.MustCompile(`(?i)\bendpoints?\s*:`),
		regexp.MustCompile(`\b(?:GET|POST|PUT|PATCH|DELETE)\s+/`),
		regexp.MustCompile(`(?i)\bfields?\s*:`),
		regexp.MustCompile(`(?i)\btables?\s*:`),
	}
)

var (
	wordRe         = regexp.MustCompile(`[a-z0-9]+`)
	maxSentencesRe = regexp.MustCompile(`(?i)\b(?:max(?:imum)?|at most|no more than|up to)\s+(\d+)\s+sentences?\b`)
	toneRe         = regexp.MustCompile(`(?i)\btone\s*[:=]\s*([^\n.;]+)`)
	traitsRe       = regexp.MustCompile(`(?i)\b(?:traits?|personality)\s*[:=]\s*([^\n.;]+)`)
	memoryRe       = regexp.MustCompile(`(?i)\bmemory\s*[:=]\s*([a-z-]+)`)
	capabilitiesRe = regexp.MustCompile(`(?i)\bcapabilities\s*[:=]\s*([^\n.;]+)`)
	thatClauseRe   = regexp.MustCompile(`(?i)\b(?:chatbot|chat bot|bot|assistant)\s+(?:that|which|to)\s+([^,.\n;]+)`)
	entitiesRe     = regexp.MustCompile(`(?i)\bentities\s*[:=]\s*([^\n.;]+)`)
	manageRe       = regexp.MustCompile(`(?i)\b(?:manage|managing|track|tracking|store|storing)\s+([a-z]+(?:\s*(?:,|and)\s*[a-z]+)*)`)
	endpointRe     = regexp.MustCompile(`\b(GET|POST|PUT|PATCH|DELETE)\s+(/[^\s,;]*)`)
	listSplitRe    = regexp.MustCompile(`\s*(?:,|\band\b|/)\s*`)
)

var toneWords = []string{"friendly", "formal", "casual", "professional", "humorous", "playful", "patient", "empathetic", "concise", "enthusiastic"}

var uiComponentWords = []string{"table", "form", "list", "dashboard", "chart", "search", "modal", "filter", "pagination"}

var stopEntities = map[string]bool{
	"a": true, "an": true, "the": true, "all": true, "my": true, "our": true,
	"their": true, "data": true, "it": true, "them": true, "everything": true,
}

// Classifier decides the archetype of a request. It is pure: the same text
// always yields the same Specification.
type Classifier struct{}

// NewClassifier creates a classifier
func NewClassifier() *Classifier { return &Classifier{} }

// Score computes the chatbot and CRUD scores of text
func (c *Classifier) Score(text string) Scores {
	lower := strings.ToLower(text)
	words := make(map[string]int)
	for _, w := range wordRe.FindAllString(lower, -1) {
		words[w]++
	}

	s := Scores{
		Chatbot: keywordScore(lower, words, chatbotKeywords) + patternScore(text, chatbotPatterns),
		CRUD:    keywordScore(lower, words, crudKeywords) + patternScore(text, crudPatterns),
	}
	s.Ambiguous = s.Chatbot == s.CRUD
	return s
}

// Classify scores text and extracts the archetype-specific fields. A tie that
// the threshold does not resolve is ambiguous and defaults to CRUD.
func (c *Classifier) Classify(text string) Specification {
	scores := c.Score(text)

	var spec Specification
	if scores.Chatbot > scores.CRUD || scores.Chatbot >= ChatbotThreshold {
		spec = NewChatbot(text, extractChatbot(text))
	} else {
		if scores.Ambiguous {
			logging.L().Debug("classification ambiguous, defaulting to crud",
				zap.Int("chatbot_score", scores.Chatbot),
				zap.Int("crud_score", scores.CRUD))
		}
		spec = NewCRUD(text, extractCRUD(text))
	}
	spec.Scores = scores
	return spec
}

func keywordScore(lower string, words map[string]int, vocab []string) int {
	score := 0
	for _, kw := range vocab {
		if strings.Contains(kw, " ") {
			if strings.Contains(lower, kw) {
				score += keywordWeight
			}
			continue
		}
		if words[kw] > 0 {
			score += keywordWeight
		}
	}
	return score
}

func patternScore(text string, patterns []*regexp.Regexp) int {
	score := 0
	for _, p := range patterns {
		if p.MatchString(text) {
			score += patternWeight
		}
	}
	return score
}

func extractChatbot(text string) ChatbotSpec {
	lower := strings.ToLower(text)
	spec := ChatbotSpec{Tone: "friendly", MemoryMode: MemorySession}

	if m := toneRe.FindStringSubmatch(text); m != nil {
		spec.Tone = strings.TrimSpace(m[1])
	} else {
		for _, w := range toneWords {
			if strings.Contains(lower, w) {
				spec.Tone = w
				break
			}
		}
	}

	if m := traitsRe.FindStringSubmatch(text); m != nil {
		spec.Traits = splitList(m[1])
	}
	for _, w := range toneWords {
		if strings.Contains(lower, w) && !contains(spec.Traits, w) {
			spec.Traits = append(spec.Traits, w)
		}
	}

	if m := maxSentencesRe.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			spec.MaxSentences = n
		}
	}

	switch m := memoryRe.FindStringSubmatch(text); {
	case m != nil:
		spec.MemoryMode = parseMemoryMode(m[1])
	case strings.Contains(lower, "long-term memory") || strings.Contains(lower, "persistent memory"):
		spec.MemoryMode = MemoryPersistent
	case strings.Contains(lower, "no memory") || strings.Contains(lower, "stateless"):
		spec.MemoryMode = MemoryNone
	}

	if m := capabilitiesRe.FindStringSubmatch(text); m != nil {
		spec.Capabilities = splitList(m[1])
	} else if m := thatClauseRe.FindStringSubmatch(text); m != nil {
		spec.Capabilities = []string{strings.TrimSpace(m[1])}
	}
	return spec
}

func parseMemoryMode(s string) MemoryMode {
	switch strings.ToLower(s) {
	case "none", "off", "no", "stateless":
		return MemoryNone
	case "persistent", "long-term", "permanent", "database":
		return MemoryPersistent
	default:
		return MemorySession
	}
}

func extractCRUD(text string) CRUDSpec {
	lower := strings.ToLower(text)
	var spec CRUDSpec

	if m := entitiesRe.FindStringSubmatch(text); m != nil {
		spec.Entities = splitList(m[1])
	} else {
		for _, m := range manageRe.FindAllStringSubmatch(lower, -1) {
			for _, e := range splitList(m[1]) {
				if stopEntities[e] || contains(spec.Entities, e) {
					continue
				}
				spec.Entities = append(spec.Entities, e)
			}
		}
	}

	for _, m := range endpointRe.FindAllStringSubmatch(text, -1) {
		ep := m[1] + " " + m[2]
		if !contains(spec.Endpoints, ep) {
			spec.Endpoints = append(spec.Endpoints, ep)
		}
	}

	for _, w := range uiComponentWords {
		if strings.Contains(lower, w) {
			spec.UIComponents = append(spec.UIComponents, w)
		}
	}
	return spec
}

func splitList(s string) []string {
	var out []string
	for _, part := range listSplitRe.Split(strings.TrimSpace(s), -1) {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
