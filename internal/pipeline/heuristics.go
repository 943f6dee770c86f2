package pipeline

import (
	"fmt"
	"strings"

	"botforge/internal/requirements"
)

// uiKeywords trigger UI generation when found anywhere in the combined text.
// Matching is by substring and the list includes generic verbs, so most
// requests qualify.
var uiKeywords = []string{
	"ui", "interface", "frontend", "react", "vue", "angular", "web page",
	"website", "chatbot", "chat", "conversational", "user interface",
	"dashboard", "bot", "assistant", "create", "build", "generate", "make",
}

// NeedsUI decides whether a run generates a UI. Chatbots always do.
func NeedsUI(message string, analysis *requirements.FullAnalysis) bool {
	if analysis != nil && analysis.Specification.IsChatbot() {
		return true
	}
	var b strings.Builder
	b.WriteString(strings.ToLower(message))
	if analysis != nil {
		b.WriteString(" ")
		b.WriteString(strings.ToLower(analysis.Text))
		if len(analysis.Structured) > 0 {
			b.WriteString(strings.ToLower(fmt.Sprint(map[string][]string(analysis.Structured))))
		}
	}
	text := b.String()
	for _, kw := range uiKeywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
