// Package requirements turns free-form application requests into a classified
// Specification that downstream stages switch on.
package requirements

import (
	"sort"
	"strings"
)

// Archetype is the discriminant of a Specification
type Archetype string

const (
	ArchetypeChatbot Archetype = "chatbot"
	ArchetypeCRUD    Archetype = "crud"
)

// MemoryMode is how a generated chatbot keeps conversation state
type MemoryMode string

const (
	MemoryNone       MemoryMode = "none"
	MemorySession    MemoryMode = "session"
	MemoryPersistent MemoryMode = "persistent"
)

// ChatbotSpec holds the fields extracted for a conversational application
type ChatbotSpec struct {
	Tone         string     `json:"tone"`
	Traits       []string   `json:"traits,omitempty"`
	MaxSentences int        `json:"max_sentences,omitempty"`
	MemoryMode   MemoryMode `json:"memory_mode"`
	Capabilities []string   `json:"capabilities,omitempty"`
}

// CRUDSpec holds the fields extracted for a data-management application
type CRUDSpec struct {
	Entities     []string `json:"entities,omitempty"`
	Endpoints    []string `json:"endpoints,omitempty"`
	UIComponents []string `json:"ui_components,omitempty"`
}

// Analysis is the structured analysis keyed by category
// (purpose, target_audience, functionalities, constraints, integration,
// domain, personality).
type Analysis map[string][]string

// Categories returns the category names in stable order
func (a Analysis) Categories() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Flatten renders the analysis as plain text for keyword scans
func (a Analysis) Flatten() string {
	var b strings.Builder
	for _, k := range a.Categories() {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(strings.Join(a[k], ", "))
		b.WriteString("\n")
	}
	return b.String()
}

// Scores records how the classifier arrived at its decision
type Scores struct {
	Chatbot   int  `json:"chatbot"`
	CRUD      int  `json:"crud"`
	Ambiguous bool `json:"ambiguous"`
}

// Specification is the classified request. Exactly one of Chatbot and CRUD is
// set, matching Archetype. A Specification is never mutated after Classify
// returns except through WithAnalysis, which returns a copy.
type Specification struct {
	Archetype   Archetype    `json:"archetype"`
	Description string       `json:"description"`
	Chatbot     *ChatbotSpec `json:"chatbot,omitempty"`
	CRUD        *CRUDSpec    `json:"crud,omitempty"`
	Analysis    Analysis     `json:"analysis,omitempty"`
	Narrative   string       `json:"narrative,omitempty"`
	Scores      Scores       `json:"scores"`
}

// NewChatbot builds a chatbot Specification
func NewChatbot(description string, c ChatbotSpec) Specification {
	return Specification{Archetype: ArchetypeChatbot, Description: description, Chatbot: &c}
}

// NewCRUD builds a CRUD Specification
func NewCRUD(description string, c CRUDSpec) Specification {
	return Specification{Archetype: ArchetypeCRUD, Description: description, CRUD: &c}
}

// IsChatbot reports whether the specification targets a conversational app
func (s Specification) IsChatbot() bool { return s.Archetype == ArchetypeChatbot }

// WithAnalysis returns a copy carrying the structured and narrative analysis
func (s Specification) WithAnalysis(a Analysis, narrative string) Specification {
	cp := s
	if len(a) > 0 {
		cp.Analysis = make(Analysis, len(a))
		for k, v := range a {
			cp.Analysis[k] = append([]string(nil), v...)
		}
	}
	cp.Narrative = narrative
	return cp
}

// Text is the combined request and analysis text used by keyword heuristics
func (s Specification) Text() string {
	parts := []string{s.Description}
	if s.Narrative != "" {
		parts = append(parts, s.Narrative)
	}
	if len(s.Analysis) > 0 {
		parts = append(parts, s.Analysis.Flatten())
	}
	return strings.Join(parts, " ")
}
